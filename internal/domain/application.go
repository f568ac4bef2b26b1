package domain

// ParsedApplication 是从 Application.xml 附件解析出的扁平结构，
// 仅在单次对账调用期间存在，不落库。缺失的可选字段保持零值，
// 由下游逻辑套用各自的回退规则。
type ParsedApplication struct {
	ReferenceNo     string          // WAPC 申请号
	AppType         string          // 申请类型代码
	Description     string          // 开发描述自由文本
	Address         string          // 文本地址
	LocationText    string          // 地点描述
	AddressDetails  []AddressDetail // 地址明细，单条时同样归一为切片
	ZoningTokens    []string        // 分区/触发点文本切分后的 token
	LocalGovernment string          // 地方政府名称
	DueDate         string          // 决定期限原始字符串
}

// AddressDetail 一条地址明细。经纬度与地籍宗地号（PIN）
// 都可能缺失或不可解析。
type AddressDetail struct {
	StreetNo     string
	StreetSuffix string
	StreetName   string
	Suburb       string
	Postcode     string
	LotNo        string
	Longitude    string
	Latitude     string
	PIN          string
}
