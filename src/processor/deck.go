// deck.go
package processor

import (
	"math"

	"UberPickups/src/config"
	"UberPickups/src/dataset"
)

// MapStyle 地图视角和图层参数
type MapStyle struct {
	BaseMap        string // 底图样式，空表示不加载底图
	Zoom           float64
	Pitch          float64
	HexRadius      float64
	ElevationScale float64
	ElevationRange [2]float64
	ScatterColor   [4]int
	ScatterRadius  float64
}

// DefaultMapStyle 默认地图参数
func DefaultMapStyle() MapStyle {
	return StyleFromConfig(config.Default().Map)
}

// StyleFromConfig 由配置生成地图参数
func StyleFromConfig(m config.MapConfig) MapStyle {
	return MapStyle{
		Zoom:           m.Zoom,
		Pitch:          m.Pitch,
		HexRadius:      m.Radius,
		ElevationScale: m.ElevationScale,
		ElevationRange: m.ElevationRange,
		ScatterColor:   [4]int{200, 30, 0, 160},
		ScatterRadius:  m.Radius,
	}
}

// ViewState 初始视角，中心点未知时经纬度为 null
type ViewState struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Zoom      float64  `json:"zoom"`
	Pitch     float64  `json:"pitch"`
}

// Layer deck.gl 图层描述，Data 为 [lon, lat]
type Layer struct {
	Type           string       `json:"@@type"`
	ID             string       `json:"id"`
	Data           [][2]float64 `json:"data"`
	Radius         float64      `json:"radius,omitempty"`
	ElevationScale float64      `json:"elevationScale,omitempty"`
	ElevationRange *[2]float64  `json:"elevationRange,omitempty"`
	Pickable       bool         `json:"pickable,omitempty"`
	Extruded       bool         `json:"extruded,omitempty"`
	GetFillColor   []int        `json:"getFillColor,omitempty"`
	GetRadius      float64      `json:"getRadius,omitempty"`
}

// Deck 地图规格，由浏览器端 deck.gl 渲染
type Deck struct {
	MapStyle         string    `json:"mapStyle,omitempty"`
	InitialViewState ViewState `json:"initialViewState"`
	Layers           []Layer   `json:"layers"`
}

// NewDeck 生成六边形柱状图层和散点图层
// 参数:
//
//	filtered: 某一小时的数据
//	centroid: 视角中心
//	latCol, lonCol: 经纬度列名
//	style: 地图参数
//
// 返回值:
//
//	Deck: 地图规格
//	error: 缺少经纬度列
func NewDeck(filtered *dataset.Table, centroid Point, latCol, lonCol string, style MapStyle) (Deck, error) {
	positions, err := Positions(filtered, latCol, lonCol)
	if err != nil {
		return Deck{}, err
	}

	elevationRange := style.ElevationRange
	color := style.ScatterColor

	return Deck{
		MapStyle: style.BaseMap,
		InitialViewState: ViewState{
			Latitude:  finite(centroid.Lat),
			Longitude: finite(centroid.Lon),
			Zoom:      style.Zoom,
			Pitch:     style.Pitch,
		},
		Layers: []Layer{
			{
				Type:           "HexagonLayer",
				ID:             "pickups-hexagon",
				Data:           positions,
				Radius:         style.HexRadius,
				ElevationScale: style.ElevationScale,
				ElevationRange: &elevationRange,
				Pickable:       true,
				Extruded:       true,
			},
			{
				Type:         "ScatterplotLayer",
				ID:           "pickups-scatter",
				Data:         positions,
				GetFillColor: color[:],
				GetRadius:    style.ScatterRadius,
			},
		},
	}, nil
}

// Positions 返回 [lon, lat] 坐标，跳过无效值
func Positions(t *dataset.Table, latCol, lonCol string) ([][2]float64, error) {
	lat, err := t.Float(latCol)
	if err != nil {
		return nil, err
	}
	lon, err := t.Float(lonCol)
	if err != nil {
		return nil, err
	}

	out := make([][2]float64, 0, len(lat))
	for i := range lat {
		if math.IsNaN(lat[i]) || math.IsNaN(lon[i]) {
			continue
		}
		out = append(out, [2]float64{lon[i], lat[i]})
	}
	return out, nil
}
