package mailbox

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Australia/Perth")
	require.NoError(t, err)
	return loc
}

// buildMessage 组装一封 multipart/mixed 测试邮件。
func buildMessage(to, cc string, parts ...string) []byte {
	var b strings.Builder
	b.WriteString("From: PRS referrals <referrals@planning.wa.gov.au>\r\n")
	fmt.Fprintf(&b, "To: %s\r\n", to)
	if cc != "" {
		fmt.Fprintf(&b, "Cc: %s\r\n", cc)
	}
	b.WriteString("Subject: Referral ABC123\r\n")
	b.WriteString("Date: Mon, 12 Sep 2016 08:00:00 +0800\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n")
	b.WriteString("\r\n")
	for _, p := range parts {
		b.WriteString("--BOUNDARY\r\n")
		b.WriteString(p)
	}
	b.WriteString("--BOUNDARY--\r\n")
	return []byte(b.String())
}

const plainPart = "Content-Type: text/plain; charset=us-ascii\r\n" +
	"\r\n" +
	"Please find the referral attached.\r\n"

func attachmentPart(name string, payload []byte) string {
	return fmt.Sprintf("Content-Type: application/octet-stream; name=%q\r\n"+
		"Content-Disposition: attachment; filename=%q\r\n"+
		"Content-Transfer-Encoding: base64\r\n"+
		"\r\n"+
		"%s\r\n", name, name, base64.StdEncoding.EncodeToString(payload))
}

func TestDecoder_Decode(t *testing.T) {
	d := NewDecoder([]string{"assessor@dbca.wa.gov.au"}, testLocation(t))
	raw := buildMessage("Assessor <Assessor@dbca.wa.gov.au>", "",
		plainPart,
		attachmentPart("Application.xml", []byte("<APPLICATION/>")),
		attachmentPart("plan.pdf", []byte("%PDF-1.4")),
	)

	in, err := d.Decode("42", raw)
	require.NoError(t, err)

	assert.Equal(t, "42", in.UID)
	assert.Equal(t, "referrals@planning.wa.gov.au", in.From)
	assert.Equal(t, "assessor@dbca.wa.gov.au", in.To)
	assert.Equal(t, "Referral ABC123", in.Subject)
	assert.Equal(t, "Please find the referral attached.", in.Body)
	assert.Equal(t, "Australia/Perth", in.Received.Location().String())
	assert.Equal(t, 2016, in.Received.Year())

	require.Len(t, in.Attachments, 2)
	assert.Equal(t, "Application.xml", in.Attachments[0].Name)
	assert.Equal(t, []byte("<APPLICATION/>"), in.Attachments[0].Payload)
	assert.Equal(t, "plan.pdf", in.Attachments[1].Name)
}

func TestDecoder_RecipientFromCC(t *testing.T) {
	d := NewDecoder([]string{"assessor@dbca.wa.gov.au"}, testLocation(t))
	raw := buildMessage("someone.else@example.com", "assessor@dbca.wa.gov.au", plainPart)

	in, err := d.Decode("1", raw)
	require.NoError(t, err)
	assert.Equal(t, "assessor@dbca.wa.gov.au", in.To)
}

func TestDecoder_NoRecognizedRecipient(t *testing.T) {
	d := NewDecoder([]string{"assessor@dbca.wa.gov.au"}, testLocation(t))
	raw := buildMessage("someone.else@example.com", "another@example.com", plainPart)

	_, err := d.Decode("1", raw)
	assert.ErrorIs(t, err, ErrNoRecognizedRecipient)
}

func TestDecoder_EmptyAllowListAcceptsFirstRecipient(t *testing.T) {
	d := NewDecoder(nil, testLocation(t))
	raw := buildMessage("anyone@example.com", "", plainPart)

	in, err := d.Decode("1", raw)
	require.NoError(t, err)
	assert.Equal(t, "anyone@example.com", in.To)
}

func TestDecoder_NotMultipart(t *testing.T) {
	d := NewDecoder(nil, testLocation(t))
	raw := []byte("From: referrals@planning.wa.gov.au\r\n" +
		"To: assessor@dbca.wa.gov.au\r\n" +
		"Date: Mon, 12 Sep 2016 08:00:00 +0800\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"just text\r\n")

	_, err := d.Decode("1", raw)
	assert.ErrorIs(t, err, ErrNotMultipart)
}

func TestDecoder_BadDate(t *testing.T) {
	d := NewDecoder(nil, testLocation(t))
	raw := []byte("From: referrals@planning.wa.gov.au\r\n" +
		"To: assessor@dbca.wa.gov.au\r\n" +
		"Date: not a date\r\n" +
		"Content-Type: multipart/mixed; boundary=\"B\"\r\n" +
		"\r\n" +
		"--B\r\n" +
		plainPart +
		"--B--\r\n")

	_, err := d.Decode("1", raw)
	assert.ErrorIs(t, err, ErrBadDate)
}

func TestDecoder_HTMLBody(t *testing.T) {
	d := NewDecoder(nil, testLocation(t))
	htmlPart := "Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><head><style>p{color:red}</style></head>" +
		"<body><p>Planning  referral</p>\r\n<p>see attachment</p></body></html>\r\n"
	raw := buildMessage("assessor@dbca.wa.gov.au", "", htmlPart)

	in, err := d.Decode("1", raw)
	require.NoError(t, err)
	assert.Equal(t, "Planning referral see attachment", in.Body)
}

func TestDecoder_NestedMultipart(t *testing.T) {
	d := NewDecoder(nil, testLocation(t))
	nested := "Content-Type: multipart/alternative; boundary=\"INNER\"\r\n" +
		"\r\n" +
		"--INNER\r\n" +
		plainPart +
		"--INNER--\r\n"
	raw := buildMessage("assessor@dbca.wa.gov.au", "",
		nested,
		attachmentPart("plan.pdf", []byte("%PDF-1.4")),
	)

	in, err := d.Decode("1", raw)
	require.NoError(t, err)
	assert.Equal(t, "Please find the referral attached.", in.Body)
	require.Len(t, in.Attachments, 1)
	assert.Equal(t, "plan.pdf", in.Attachments[0].Name)
}

func TestDecoder_QuotedPrintableBody(t *testing.T) {
	d := NewDecoder(nil, testLocation(t))
	qpPart := "Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"Referral for lot 9 =E2=80=94 see attached.\r\n"
	raw := buildMessage("assessor@dbca.wa.gov.au", "", qpPart)

	in, err := d.Decode("1", raw)
	require.NoError(t, err)
	assert.Contains(t, in.Body, "Referral for lot 9")
	assert.Contains(t, in.Body, "see attached.")
}
