package geo

import (
	"sort"

	"saferoute/models"

	geojson "github.com/paulmach/go.geojson"
)

// Filter keeps the reports within radiusKm of center, annotates each with its
// distance and sorts ascending by distance. Reports whose distance cannot be
// resolved (no center, or an invalid report coordinate) are kept and sorted last
// in their original order.
func Filter(center *Point, radiusKm float64, reports []models.Report) []models.FeedItem {
	items := make([]models.FeedItem, 0, len(reports))
	for _, r := range reports {
		item := models.FeedItem{Report: r}
		p := Point{Lat: r.Latitude, Lng: r.Longitude}
		if center != nil && center.Valid() && p.Valid() {
			d := DistanceKm(*center, p)
			if d > radiusKm {
				continue
			}
			item.DistanceKm = &d
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		di, dj := items[i].DistanceKm, items[j].DistanceKm
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		}
		return *di < *dj
	})
	return items
}

// FeatureCollection renders a feed page as GeoJSON points
func FeatureCollection(items []models.FeedItem) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, it := range items {
		r := it.Report
		f := geojson.NewPointFeature([]float64{r.Longitude, r.Latitude})
		f.ID = r.ID
		f.SetProperty("category", string(r.Category))
		f.SetProperty("severity", string(r.Severity))
		f.SetProperty("description", r.Description)
		f.SetProperty("confidence", r.Confidence)
		f.SetProperty("comment_count", r.CommentCount)
		f.SetProperty("created_at", r.CreatedAt)
		f.SetProperty("expires_at", r.ExpiresAt)
		if r.LocationName != "" {
			f.SetProperty("location_name", r.LocationName)
		}
		if it.DistanceKm != nil {
			f.SetProperty("distance_km", *it.DistanceKm)
		}
		fc.AddFeature(f)
	}
	return fc
}
