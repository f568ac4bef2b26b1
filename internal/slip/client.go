// Package slip 查询 Landgate SLIP 地籍服务（Esri REST API），
// 按宗地号（PIN）取回多边形要素。
// Ref: https://catalogue.data.wa.gov.au/group/about/cadastre
package slip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/paulmach/orb"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dbca-wa/prs-harvester/internal/config"
)

// Feature 一个地籍要素：外边界多边形，外加可选的质心坐标。
// 质心在点相交判定失败时作为回退点源。
type Feature struct {
	Polygon  orb.Polygon
	Centroid *orb.Point
}

// Client SLIP 查询客户端。调用方把所有错误视为"未取得几何"，
// 不让它中断转介创建。
type Client struct {
	cfg     config.SlipConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewClient 创建 SLIP 客户端。
func NewClient(cfg config.SlipConfig, log *zap.Logger) *Client {
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}
}

// queryResponse Esri REST /query 响应的关注子集。
type queryResponse struct {
	Features []struct {
		Attributes struct {
			CentroidLongitude *float64 `json:"centroid_longitude"`
			CentroidLatitude  *float64 `json:"centroid_latitude"`
		} `json:"attributes"`
		Geometry struct {
			Rings [][][]float64 `json:"rings"`
		} `json:"geometry"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// QueryParcel 按 PIN 查询地籍要素。返回零个或多个要素。
func (c *Client) QueryParcel(ctx context.Context, pin string) ([]Feature, error) {
	if c.cfg.URL == "" {
		return nil, fmt.Errorf("slip service not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("f", "json")
	params.Set("outSR", "4326")
	params.Set("outFields", "*")
	params.Set("returnGeometry", "true")
	params.Set("where", fmt.Sprintf("polygon_number=%s", pin))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/query?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query slip for PIN %s: %w", pin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("query slip for PIN %s: status %d", pin, resp.StatusCode)
	}

	var decoded queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode slip response for PIN %s: %w", pin, err)
	}
	// Esri 把应用层错误放在 200 响应体里。
	if decoded.Error != nil {
		return nil, fmt.Errorf("slip error for PIN %s: %d %s", pin, decoded.Error.Code, decoded.Error.Message)
	}

	features := make([]Feature, 0, len(decoded.Features))
	for _, f := range decoded.Features {
		feat := Feature{Polygon: ringsToPolygon(f.Geometry.Rings)}
		if f.Attributes.CentroidLongitude != nil && f.Attributes.CentroidLatitude != nil {
			pt := orb.Point{*f.Attributes.CentroidLongitude, *f.Attributes.CentroidLatitude}
			feat.Centroid = &pt
		}
		features = append(features, feat)
	}
	c.log.Debug("slip query complete", zap.String("pin", pin), zap.Int("features", len(features)))
	return features, nil
}

// ringsToPolygon 将 Esri rings 坐标列表转换为 orb.Polygon。
func ringsToPolygon(rings [][][]float64) orb.Polygon {
	poly := make(orb.Polygon, 0, len(rings))
	for _, ring := range rings {
		r := make(orb.Ring, 0, len(ring))
		for _, coord := range ring {
			if len(coord) < 2 {
				continue
			}
			r = append(r, orb.Point{coord[0], coord[1]})
		}
		if len(r) > 0 {
			poly = append(poly, r)
		}
	}
	return poly
}
