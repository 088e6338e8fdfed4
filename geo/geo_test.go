package geo

import (
	"encoding/json"
	"math"
	"testing"

	"saferoute/models"
)

func TestDistanceKm(t *testing.T) {
	testCases := []struct {
		name  string
		a, b  Point
		want  float64
		delta float64
	}{
		{"Same point", Point{47.3769, 8.5417}, Point{47.3769, 8.5417}, 0, 1e-9},
		{"One degree on the equator", Point{0, 0}, Point{0, 1}, 111.195, 0.01},
		{"Paris to London", Point{48.8566, 2.3522}, Point{51.5074, -0.1278}, 343.5, 1.0},
		{"Across the antimeridian", Point{0, 179.5}, Point{0, -179.5}, 111.195, 0.01},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := DistanceKm(tc.a, tc.b)
			if math.Abs(got-tc.want) > tc.delta {
				t.Errorf("DistanceKm() = %f, want %f ± %f", got, tc.want, tc.delta)
			}
			if back := DistanceKm(tc.b, tc.a); math.Abs(back-got) > 1e-9 {
				t.Errorf("distance is not symmetric: %f vs %f", got, back)
			}
		})
	}
}

func TestMidpoint(t *testing.T) {
	m := Midpoint(Point{0, 0}, Point{0, 10})
	if math.Abs(m.Lat) > 1e-9 || math.Abs(m.Lng-5) > 1e-9 {
		t.Errorf("Midpoint() = %+v, want {0 5}", m)
	}
}

func TestBoundingRect(t *testing.T) {
	center := Point{Lat: 10, Lng: 20}
	b := BoundingRect(center, 100)

	// 100 km is ~0.8993 degrees of latitude.
	if math.Abs((center.Lat-b.LatMin)-0.8993) > 0.001 || math.Abs((b.LatMax-center.Lat)-0.8993) > 0.001 {
		t.Errorf("unexpected latitude bounds %+v", b)
	}
	if b.LngMin >= center.Lng || b.LngMax <= center.Lng {
		t.Errorf("longitude bounds %+v do not contain the center", b)
	}
	if b.WrapsAntimeridian {
		t.Errorf("did not expect the rectangle to wrap")
	}

	wrapped := BoundingRect(Point{Lat: 0, Lng: 179.9}, 50)
	if !wrapped.WrapsAntimeridian {
		t.Errorf("expected the rectangle to wrap the antimeridian: %+v", wrapped)
	}
}

func TestFilter(t *testing.T) {
	center := &Point{Lat: 0, Lng: 0}
	mk := func(id string, lat, lng float64) models.Report {
		return models.Report{ID: id, Latitude: lat, Longitude: lng}
	}
	reports := []models.Report{
		mk("a", 0, 0.5),
		mk("b", 0, 0.1),
		mk("c", 0, 0.3),
		mk("d", 0, 2.0),
		mk("e", 0, 0.8),
	}

	items := Filter(center, 100, reports)

	want := []string{"b", "c", "a", "e"}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	prev := -1.0
	for i, it := range items {
		if it.Report.ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, it.Report.ID, want[i])
		}
		if it.DistanceKm == nil {
			t.Fatalf("item %s has no distance", it.Report.ID)
		}
		if *it.DistanceKm < prev {
			t.Errorf("items are not sorted by distance")
		}
		prev = *it.DistanceKm
	}
}

func TestFilterUnresolvedDistancesLast(t *testing.T) {
	reports := []models.Report{
		{ID: "bad1", Latitude: math.NaN(), Longitude: 0},
		{ID: "near", Latitude: 0, Longitude: 0.01},
		{ID: "bad2", Latitude: 123, Longitude: 0},
	}

	items := Filter(&Point{}, 10, reports)
	got := []string{}
	for _, it := range items {
		got = append(got, it.Report.ID)
	}
	want := []string{"near", "bad1", "bad2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got order %v, want %v", got, want)
		}
	}

	noCenter := Filter(nil, 10, reports)
	for i, it := range noCenter {
		if it.DistanceKm != nil {
			t.Errorf("expected no distance without a center")
		}
		if it.Report.ID != reports[i].ID {
			t.Errorf("insertion order not preserved at %d", i)
		}
	}
}

func TestFeatureCollection(t *testing.T) {
	d := 1.5
	fc := FeatureCollection([]models.FeedItem{{
		Report:     models.Report{ID: "r1", Latitude: 1, Longitude: 2, Category: models.CategoryHazard, Confidence: 90},
		DistanceKm: &d,
	}})
	if len(fc.Features) != 1 {
		t.Fatalf("got %d features, want 1", len(fc.Features))
	}
	f := fc.Features[0]
	if f.Geometry.Point[0] != 2 || f.Geometry.Point[1] != 1 {
		t.Errorf("expected [lng, lat] ordering, got %v", f.Geometry.Point)
	}
	if _, err := json.Marshal(fc); err != nil {
		t.Errorf("failed to marshal feature collection: %v", err)
	}
	if f.Properties["distance_km"] != 1.5 {
		t.Errorf("distance_km property = %v", f.Properties["distance_km"])
	}
}
