// Package harvest 实现转介邮件的采集与对账管线：
// 入库（Ingest）把未读邮件落为 HarvestedMessage，
// 对账（Reconcile）把未处理的邮件归并到转介域实体上。
package harvest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/dbca-wa/prs-harvester/internal/domain"
)

// ErrXMLParse Application.xml 附件无法解析。对单封邮件是终结性错误：
// 该邮件带说明记录标记为已处理，不会无限重试。
var ErrXMLParse = errors.New("application xml parse failed")

// applicationDoc 镜像 WAPC Application.xml 的文档结构。
// 数据源存在单条/列表摇摆：ADDRESS_DETAIL 下的地址条目只有一条时
// 也可能不带包装层，切片反序列化天然兼容两种写法。
type applicationDoc struct {
	XMLName         xml.Name           `xml:"APPLICATION"`
	ReferenceNo     string             `xml:"WAPC_APPLICATION_NO"`
	AppType         string             `xml:"APP_TYPE"`
	Description     string             `xml:"DEVELOPMENT_DESCRIPTION"`
	Address         string             `xml:"ADDRESS"`
	Location        string             `xml:"LOCATION"`
	AddressDetails  []addressDetailDoc `xml:"ADDRESS_DETAIL>DOP_ADDRESS_TYPE"`
	MRSZone         string             `xml:"MRS_ZONE"`
	DopTrigger      string             `xml:"DOP_TRIGGER"`
	LocalGovernment string             `xml:"LOCAL_GOVERNMENT"`
	DueDate         string             `xml:"WAPC_DECISION_DUE_DATE"`
}

type addressDetailDoc struct {
	StreetNo     string `xml:"STREET_NO"`
	StreetSuffix string `xml:"STREET_SUFFIX"`
	StreetName   string `xml:"STREET_NAME"`
	Suburb       string `xml:"SUBURB"`
	Postcode     string `xml:"POSTCODE"`
	LotNo        string `xml:"LOT_NO"`
	Longitude    string `xml:"LONGITUDE"`
	Latitude     string `xml:"LATITUDE"`
	PIN          string `xml:"PIN"`
}

// ParseApplicationXML 把 Application.xml 附件解析为扁平的 ParsedApplication。
// 缺失的可选字段保持零值，不报错；下游逻辑套用各自的回退规则。
func ParseApplicationXML(data []byte) (*domain.ParsedApplication, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := ianaindex.IANA.Encoding(charset)
		if err != nil || enc == nil {
			return nil, fmt.Errorf("unsupported charset %q", charset)
		}
		return transform.NewReader(input, enc.NewDecoder()), nil
	}

	var doc applicationDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrXMLParse, err)
	}

	app := &domain.ParsedApplication{
		ReferenceNo:     strings.TrimSpace(doc.ReferenceNo),
		AppType:         strings.TrimSpace(doc.AppType),
		Description:     strings.TrimSpace(doc.Description),
		Address:         strings.TrimSpace(doc.Address),
		LocationText:    strings.TrimSpace(doc.Location),
		ZoningTokens:    splitZoningText(doc.MRSZone, doc.DopTrigger),
		LocalGovernment: strings.TrimSpace(doc.LocalGovernment),
		DueDate:         strings.TrimSpace(doc.DueDate),
	}
	for _, d := range doc.AddressDetails {
		app.AddressDetails = append(app.AddressDetails, domain.AddressDetail{
			StreetNo:     strings.TrimSpace(d.StreetNo),
			StreetSuffix: strings.TrimSpace(d.StreetSuffix),
			StreetName:   strings.TrimSpace(d.StreetName),
			Suburb:       strings.TrimSpace(d.Suburb),
			Postcode:     strings.TrimSpace(d.Postcode),
			LotNo:        strings.TrimSpace(d.LotNo),
			Longitude:    strings.TrimSpace(d.Longitude),
			Latitude:     strings.TrimSpace(d.Latitude),
			PIN:          strings.TrimSpace(d.PIN),
		})
	}
	return app, nil
}

// splitZoningText 把分区/触发点文本按分号与逗号切分为 token。
func splitZoningText(fields ...string) []string {
	var tokens []string
	for _, f := range fields {
		for _, tok := range strings.FieldsFunc(f, func(r rune) bool {
			return r == ';' || r == ','
		}) {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}
