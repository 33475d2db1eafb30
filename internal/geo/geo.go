package geo

import (
	"math"

	"github.com/ansontyyeung/AnonymousChatPOC/internal/errs"
)

// EarthRadius 是球面近似下的地球平均半径（米）。
const EarthRadius = 6371000.0

// Point 是一个经纬度坐标。
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate 校验坐标范围。
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return errs.Invalid("coordinates must be numbers")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return errs.Invalid("latitude %v out of range", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return errs.Invalid("longitude %v out of range", p.Lng)
	}
	return nil
}

// Distance 用 haversine 公式计算两点间的大圆距离（米）。
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	// 浮点误差可能让 h 略微超过 1
	h = math.Min(1, h)
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}
