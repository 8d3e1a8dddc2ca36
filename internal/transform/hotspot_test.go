package transform

import (
	"testing"

	"mobility-rollups/internal/models"
)

func hotspotLeg(stop string, lat, lon float64) *models.ClassifiedLeg {
	l := &models.ClassifiedLeg{}
	l.StartStopName = stop
	l.StartLatitude = f64(lat)
	l.StartLongitude = f64(lon)
	return l
}

func TestHotspotKey(t *testing.T) {
	tests := []struct {
		name     string
		a, b     *models.ClassifiedLeg
		wantSame bool
	}{
		{"same stop name", hotspotLeg("Main & 1st", 29.1, -98.1), hotspotLeg("Main & 1st", 30.2, -97.2), true},
		{"stop name trimmed", hotspotLeg(" Main & 1st", 0, 0), hotspotLeg("Main & 1st ", 0, 0), true},
		{"different stop name", hotspotLeg("Main & 1st", 0, 0), hotspotLeg("Main & 2nd", 0, 0), false},
		{"blank stops round together", hotspotLeg("", 29.42411, -98.49362), hotspotLeg(" ", 29.42409, -98.49358), true},
		{"blank stops round apart", hotspotLeg("", 29.4241, -98.4936), hotspotLeg("", 29.4243, -98.4936), false},
		{"negative zero folds", hotspotLeg("", -0.00001, 10), hotspotLeg("", 0.00001, 10), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka, kb := HotspotKey(tt.a), HotspotKey(tt.b)
			if (ka == kb) != tt.wantSame {
				t.Errorf("keys %q and %q: same=%v, want %v", ka, kb, ka == kb, tt.wantSame)
			}
			if (HotspotHash(ka) == HotspotHash(kb)) != tt.wantSame {
				t.Errorf("hashes of %q and %q disagree with key equality", ka, kb)
			}
		})
	}
}

func TestHotspotKey_Format(t *testing.T) {
	got := HotspotKey(hotspotLeg("", 29.42411, -98.49362))
	if want := "XY:29.4241,-98.4936"; got != want {
		t.Errorf("HotspotKey() = %q, want %q", got, want)
	}
	if h := HotspotHash(got); len(h) != 64 || h != HotspotHash(got) {
		t.Errorf("HotspotHash() = %q, want stable 64 hex chars", h)
	}
}

func TestHotspotKey_NoStartPoint(t *testing.T) {
	l := &models.ClassifiedLeg{}
	if got := HotspotKey(l); got != HotspotUnknown {
		t.Errorf("HotspotKey() = %q, want %q", got, HotspotUnknown)
	}

	l.StartStopName = "Main & 1st"
	if got := HotspotKey(l); got != "Main & 1st" {
		t.Errorf("HotspotKey() = %q, stop name should win over missing coordinates", got)
	}
}
