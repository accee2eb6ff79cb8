package model

type StyleHint struct {
	FillColor   string  `json:"fillColor,omitempty"`
	Color       string  `json:"color"`
	Weight      float64 `json:"weight,omitempty"`
	FillOpacity float64 `json:"fillOpacity,omitempty"`
	Opacity     float64 `json:"opacity"`
	Radius      float64 `json:"radius,omitempty"`
}

var (
	polygonStyle = StyleHint{FillColor: "#20B2AA", Color: "#008B8B", Weight: 2, FillOpacity: 0.4, Opacity: 0.8}
	lineStyle    = StyleHint{Color: "#40E0D0", Weight: 3, Opacity: 0.8}
	pointStyle   = StyleHint{Color: "#48D1CC", FillColor: "#20B2AA", Radius: 6, FillOpacity: 0.8, Opacity: 1}
)

// StyleFor returns the default style of a geometry kind; polygons are the fallback.
func StyleFor(k GeometryKind) StyleHint {
	switch k {
	case KindLineString, KindMultiLineString:
		return lineStyle
	case KindPoint, KindMultiPoint:
		return pointStyle
	default:
		return polygonStyle
	}
}
