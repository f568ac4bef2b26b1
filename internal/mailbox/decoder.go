package mailbox

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

var (
	// ErrNotMultipart 邮件不是可识别的 multipart 结构。该邮件被跳过并记日志，
	// 不是批次级错误。
	ErrNotMultipart = errors.New("message is not multipart")
	// ErrNoRecognizedRecipient To/CC 都不包含白名单内的受理邮箱，这封邮件不归我们采集。
	ErrNoRecognizedRecipient = errors.New("no recognized recipient")
	// ErrBadDate Date 头无法解析。入库邮件必须有站得住脚的接收时间
	// （后续按日期的业务规则依赖它），因此整个解码失败。
	ErrBadDate = errors.New("unparsable message date")
)

// Inbound 一封解码后的标准化邮件。
type Inbound struct {
	UID         string
	Received    time.Time
	From        string
	To          string
	Subject     string
	Body        string
	Attachments []InboundAttachment
}

// InboundAttachment 解码后的附件。
type InboundAttachment struct {
	Name    string
	Payload []byte
}

// Decoder 将原始邮件字节解码为 Inbound。
type Decoder struct {
	assessors map[string]struct{}
	loc       *time.Location
}

// NewDecoder 创建解码器。assessorEmails 为空时跳过收件人白名单校验。
func NewDecoder(assessorEmails []string, loc *time.Location) *Decoder {
	set := make(map[string]struct{}, len(assessorEmails))
	for _, a := range assessorEmails {
		set[strings.ToLower(a)] = struct{}{}
	}
	return &Decoder{assessors: set, loc: loc}
}

// part 是 MIME 树上一个叶子节点。
type part struct {
	mediaType string
	filename  string
	payload   []byte
}

// Decode 解码一封邮件。遍历 MIME 树：首个 text/html 或 text/plain
// 叶子作为正文，其余非容器叶子都是附件候选。
func (d *Decoder) Decode(uid string, raw []byte) (*Inbound, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, ErrNotMultipart
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, ErrNotMultipart
	}

	toAddr, err := d.resolveRecipient(msg.Header)
	if err != nil {
		return nil, err
	}

	received, err := msg.Header.Date()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDate, err)
	}
	received = received.In(d.loc)

	leaves, err := walkParts(multipart.NewReader(msg.Body, boundary))
	if err != nil {
		return nil, fmt.Errorf("walk mime parts: %w", err)
	}

	in := &Inbound{
		UID:      uid,
		Received: received,
		From:     firstAddress(msg.Header.Get("From")),
		To:       toAddr,
		Subject:  decodeHeader(msg.Header.Get("Subject")),
	}

	for _, p := range leaves {
		if in.Body == "" && (p.mediaType == "text/html" || p.mediaType == "text/plain") && p.filename == "" {
			if p.mediaType == "text/html" {
				in.Body = stripHTML(string(p.payload))
			} else {
				// 纯文本正文只去掉软换行痕迹。
				in.Body = strings.TrimSpace(strings.ReplaceAll(string(p.payload), "=\n", ""))
			}
			continue
		}
		// 无文件名或空载荷的部分不作为附件（常见于内联签名图标占位）。
		if p.filename == "" || len(p.payload) == 0 {
			continue
		}
		in.Attachments = append(in.Attachments, InboundAttachment{Name: p.filename, Payload: p.payload})
	}

	return in, nil
}

// resolveRecipient 先看 To、再看 CC；白名单非空时必须命中其一。
func (d *Decoder) resolveRecipient(h mail.Header) (string, error) {
	for _, key := range []string{"To", "Cc"} {
		addrs, err := h.AddressList(key)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			addr := strings.ToLower(a.Address)
			if len(d.assessors) == 0 {
				return addr, nil
			}
			if _, ok := d.assessors[addr]; ok {
				return addr, nil
			}
		}
	}
	return "", ErrNoRecognizedRecipient
}

// walkParts 按出现顺序收集 MIME 树的全部叶子部分。
func walkParts(mr *multipart.Reader) ([]part, error) {
	var leaves []part
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		mediaType, params, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
		if err != nil {
			mediaType = "text/plain"
		}

		// 容器类型递归展开，自身不算叶子。
		if strings.HasPrefix(mediaType, "multipart/") {
			sub := multipart.NewReader(p, params["boundary"])
			nested, err := walkParts(sub)
			if err != nil {
				return nil, err
			}
			leaves = append(leaves, nested...)
			continue
		}

		payload, err := decodeBody(p, p.Header.Get("Content-Transfer-Encoding"), params["charset"], mediaType)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, part{
			mediaType: mediaType,
			filename:  partFilename(p, params),
			payload:   payload,
		})
	}
	return leaves, nil
}

// partFilename 从 Content-Disposition 或 Content-Type name 参数取附件名。
func partFilename(p *multipart.Part, ctParams map[string]string) string {
	if disp := p.Header.Get("Content-Disposition"); disp != "" {
		if _, dispParams, err := mime.ParseMediaType(disp); err == nil {
			if fn := dispParams["filename"]; fn != "" {
				return decodeHeader(fn)
			}
		}
	}
	if name := ctParams["name"]; name != "" {
		return decodeHeader(name)
	}
	return ""
}

// decodeBody 按传输编码与字符集解码部分内容。
func decodeBody(r io.Reader, cte, charset, mediaType string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, newBase64Cleaner(r))
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// 只有文本类内容才做字符集转换，二进制附件原样保留。
	if strings.HasPrefix(mediaType, "text/") && charset != "" && !strings.EqualFold(charset, "utf-8") {
		if enc, err := ianaindex.IANA.Encoding(charset); err == nil && enc != nil {
			if converted, _, err := transform.Bytes(enc.NewDecoder(), data); err == nil {
				data = converted
			}
		}
	}
	return data, nil
}

// base64Cleaner 过滤 base64 流里的 CR/LF，避免解码器报错。
type base64Cleaner struct {
	r io.Reader
}

func newBase64Cleaner(r io.Reader) io.Reader { return &base64Cleaner{r: r} }

func (c *base64Cleaner) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	n, err := c.r.Read(buf)
	out := 0
	for _, b := range buf[:n] {
		if b == '\r' || b == '\n' {
			continue
		}
		p[out] = b
		out++
	}
	if out == 0 && err == nil {
		// 整块都是换行时继续读，避免返回 (0, nil)。
		return c.Read(p)
	}
	return out, err
}

// decodeHeader 解码 RFC 2047 编码的头部值。
func decodeHeader(value string) string {
	dec := &mime.WordDecoder{
		CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := ianaindex.IANA.Encoding(charset)
			if err != nil || enc == nil {
				return nil, fmt.Errorf("unsupported charset %q", charset)
			}
			return transform.NewReader(input, enc.NewDecoder()), nil
		},
	}
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

// firstAddress 返回地址头里的第一个邮件地址（小写），解析失败时原样返回。
func firstAddress(value string) string {
	addrs, err := mail.ParseAddressList(value)
	if err != nil || len(addrs) == 0 {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return strings.ToLower(addrs[0].Address)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// stripHTML 去除标记，仅保留可见文本并压缩空白。
func stripHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		// 解析失败时退化为原文去软换行。
		return strings.TrimSpace(strings.ReplaceAll(html, "=\n", ""))
	}
	doc.Find("script,style,head").Remove()
	text := doc.Text()
	text = strings.ReplaceAll(text, "=\n", "")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}
