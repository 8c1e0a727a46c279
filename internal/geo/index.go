// Package geo provides great-circle nearest-neighbour search over station
// coordinates.
package geo

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// EarthRadiusKm is the mean Earth radius
const EarthRadiusKm = 6371.0088

// Site is an indexed location in degrees
type Site struct {
	ID  int
	Lat float64
	Lon float64
}

// Neighbor is a query result with its great-circle distance
type Neighbor struct {
	Site       Site
	DistanceKm float64
}

// Haversine returns the great-circle distance in kilometres between two
// points given in degrees
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dPhi := phi2 - phi1
	dLambda := radians(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// unitVector maps a lat/lon in degrees onto the unit sphere. Squared chord
// length between unit vectors is monotonic in great-circle distance, so a
// Euclidean k-d tree over these points ranks neighbours by haversine order.
func unitVector(lat, lon float64) kdtree.Point {
	phi, lambda := radians(lat), radians(lon)
	return kdtree.Point{
		math.Cos(phi) * math.Cos(lambda),
		math.Cos(phi) * math.Sin(lambda),
		math.Sin(phi),
	}
}

type sitePoint struct {
	kdtree.Point
	site int
}

func (p sitePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(sitePoint)
	return p.Point[d] - q.Point[d]
}

func (p sitePoint) Dims() int { return len(p.Point) }

func (p sitePoint) Distance(c kdtree.Comparable) float64 {
	q := c.(sitePoint)
	return p.Point.Distance(q.Point)
}

type sitePoints []sitePoint

func (p sitePoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p sitePoints) Len() int                              { return len(p) }
func (p sitePoints) Pivot(d kdtree.Dim) int                { return sitePlane{sitePoints: p, Dim: d}.Pivot() }
func (p sitePoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type sitePlane struct {
	kdtree.Dim
	sitePoints
}

func (p sitePlane) Less(i, j int) bool {
	return p.sitePoints[i].Point[p.Dim] < p.sitePoints[j].Point[p.Dim]
}
func (p sitePlane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p sitePlane) Slice(start, end int) kdtree.SortSlicer {
	p.sitePoints = p.sitePoints[start:end]
	return p
}
func (p sitePlane) Swap(i, j int) {
	p.sitePoints[i], p.sitePoints[j] = p.sitePoints[j], p.sitePoints[i]
}

// Index answers k-nearest queries over a fixed set of sites
type Index struct {
	sites []Site
	tree  *kdtree.Tree
}

// NewIndex builds an index over sites. The slice is copied.
func NewIndex(sites []Site) *Index {
	ix := &Index{sites: append([]Site(nil), sites...)}
	if len(ix.sites) == 0 {
		return ix
	}

	points := make(sitePoints, len(ix.sites))
	for i, s := range ix.sites {
		points[i] = sitePoint{Point: unitVector(s.Lat, s.Lon), site: i}
	}
	ix.tree = kdtree.New(points, false)
	return ix
}

// Len returns the number of indexed sites
func (ix *Index) Len() int {
	return len(ix.sites)
}

// Nearest returns up to k sites ordered by great-circle distance from
// (lat, lon); ties are broken by site ID
func (ix *Index) Nearest(lat, lon float64, k int) []Neighbor {
	if ix.tree == nil || k <= 0 {
		return nil
	}
	if k > len(ix.sites) {
		k = len(ix.sites)
	}

	keeper := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keeper, sitePoint{Point: unitVector(lat, lon), site: -1})

	out := make([]Neighbor, 0, k)
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil {
			continue
		}
		s := ix.sites[cd.Comparable.(sitePoint).site]
		out = append(out, Neighbor{Site: s, DistanceKm: Haversine(lat, lon, s.Lat, s.Lon)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Site.ID < out[j].Site.ID
	})
	return out
}
