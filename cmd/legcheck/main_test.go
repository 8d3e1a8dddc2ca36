package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"mobility-rollups/internal/config"
	"mobility-rollups/internal/models"
)

const sampleCSV = `user_trip_id,file_date,start_time,end_time,start_longitude,start_latitude,end_longitude,end_latitude,service_name,route_short_name,mode,start_stop_name,end_stop_name,source_file,origin_zone,dest_zone,extra
A,2024-05-01,2024-05-01 08:00:00,2024-05-01 08:10:00,-98.4936,29.4241,-98.48,29.43,VIA Metro,10,bus,S1,S2,f.csv,480291101001,480291101002,x
A,2024-05-01,2024-05-01 08:20:00,2024-05-01 08:30:00,-98.48,29.43,-98.47,29.44,VIA Metro,12,bus,S2,S3,f.csv,480291101002,480291101003,x
A,2024-05-01,2024-05-01 08:20:00,2024-05-01 08:30:00,-98.48,29.43,-98.47,29.44,VIA Metro,12,bus,S2,S3,f.csv,480291101002,480291101003,x
B,2024-05-01,2024-05-01 09:00:00,,-98.4936,,-98.48,29.43,VIA Metro,10,bus,S1,S2,f.csv,480291101001,480291101002,x
C,2024-04-20,2024-04-20 09:00:00,2024-04-20 09:10:00,-98.4936,29.4241,-98.48,29.43,VIA Metro,10,bus,S1,S2,f.csv,480291101001,480291101002,x
D,2024-05-01,2024-05-01 10:00:00,2024-05-01 10:10:00,-98.4936,north,-98.48,29.43,VIA Metro,10,bus,S1,S2,f.csv,480291101001,480291101002,x
`

func TestReadRawLegs(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantErr     bool
		checkValues func(*testing.T, []models.RawLegRecord)
	}{
		{
			name:  "sample export",
			input: sampleCSV,
			checkValues: func(t *testing.T, recs []models.RawLegRecord) {
				if len(recs) != 6 {
					t.Fatalf("len = %d, want 6", len(recs))
				}
				if recs[0].UserTripID == nil || *recs[0].UserTripID != "A" {
					t.Errorf("UserTripID = %v", recs[0].UserTripID)
				}
				if recs[3].EndTime != nil || recs[3].StartLatitude != nil {
					t.Errorf("empty cells should be nil: %+v", recs[3])
				}
				if recs[0].ManhattanDistanceMi != nil {
					t.Error("missing column should stay nil")
				}
			},
		},
		{
			name:  "byte order mark and case",
			input: "\ufeffUSER_TRIP_ID,Mode\nA,walk\n",
			checkValues: func(t *testing.T, recs []models.RawLegRecord) {
				if len(recs) != 1 || recs[0].UserTripID == nil || *recs[0].Mode != "walk" {
					t.Errorf("recs = %+v", recs)
				}
			},
		},
		{name: "empty", input: "", wantErr: true},
		{name: "unknown header", input: "a,b\n1,2\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readRawLegs(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("readRawLegs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkValues != nil {
				tt.checkValues(t, got)
			}
		})
	}
}

func TestDryRun(t *testing.T) {
	records, err := readRawLegs(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Defaults().Refresh

	tests := []struct {
		name         string
		windowDays   int
		prefix       string
		end          *time.Time
		wantInWindow int
		wantWindow   string
	}{
		{"window after newest leg", 7, "", nil, 3, "2024-04-25"},
		{"wide window", 31, "", nil, 4, "2024-04-01"},
		{"prefix excludes all", 31, "06", nil, 0, "2024-04-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := dryRun(context.Background(), records, cfg, tt.windowDays, tt.prefix, tt.end)
			if err != nil {
				t.Fatalf("dryRun() error = %v", err)
			}
			if c.Read != 6 || c.Rejected != 1 || c.Duplicates != 1 || c.Clean != 4 {
				t.Errorf("counts = read %d rejected %d dup %d clean %d", c.Read, c.Rejected, c.Duplicates, c.Clean)
			}
			if c.RejectFields["start_latitude"] != 1 {
				t.Errorf("RejectFields = %v", c.RejectFields)
			}
			if c.InWindow != tt.wantInWindow {
				t.Errorf("InWindow = %d, want %d", c.InWindow, tt.wantInWindow)
			}
			if got := c.Window.Start.Format("2006-01-02"); got != tt.wantWindow {
				t.Errorf("Window.Start = %s, want %s", got, tt.wantWindow)
			}
			if !c.Window.End.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)) {
				t.Errorf("Window.End = %v", c.Window.End)
			}
		})
	}

	c, _ := dryRun(context.Background(), records, cfg, 7, "", nil)
	if c.Trips != 2 || c.Transfers != 1 {
		t.Errorf("trips/transfers = %d/%d, want 2/1", c.Trips, c.Transfers)
	}
	if c.Rows[models.TableHotspots] != 1 {
		t.Errorf("hotspot rows = %d, want 1", c.Rows[models.TableHotspots])
	}
}
