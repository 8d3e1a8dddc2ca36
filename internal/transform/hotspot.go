package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"mobility-rollups/internal/models"
)

// HotspotTag prefixes keys synthesized from coordinates. A stop literally named like a
// synthesized key shares its hotspot.
const HotspotTag = "XY:"

// HotspotUnknown is the key for a leg with neither a start stop nor a start point.
const HotspotUnknown = HotspotTag + "unknown"

// HotspotKey is the leg's start stop name, or the start point rounded to four decimals.
func HotspotKey(leg *models.ClassifiedLeg) string {
	if stop := strings.TrimSpace(leg.StartStopName); stop != "" {
		return stop
	}
	if leg.StartLatitude == nil || leg.StartLongitude == nil {
		return HotspotUnknown
	}
	return fmt.Sprintf("%s%.4f,%.4f", HotspotTag, round4(*leg.StartLatitude), round4(*leg.StartLongitude))
}

func HotspotHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0
	}
	return r
}
