package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
)

type fakeNative struct {
	pdfText  string
	pdfErr   error
	docxText string
	docxErr  error
}

func (f *fakeNative) TextFromPDF(context.Context, []byte) (string, error) {
	return f.pdfText, f.pdfErr
}

func (f *fakeNative) TextFromDocx(context.Context, []byte) (string, error) {
	return f.docxText, f.docxErr
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtract_Passthrough(t *testing.T) {
	e := New()

	for _, ft := range []string{"text", "md", "TEXT"} {
		text, err := e.Extract(context.Background(), ft, []byte("  # Title\nbody  "))
		require.NoError(t, err)
		assert.Equal(t, "# Title\nbody", text)
	}
}

func TestExtract_UnknownAndEmpty(t *testing.T) {
	e := New()

	_, err := e.Extract(context.Background(), "pptx", []byte("x"))
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))

	_, err = e.Extract(context.Background(), "text", []byte("   "))
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestHTMLText(t *testing.T) {
	page := `<html><head><title>Report</title><style>p{color:red}</style></head>
<body><h1>Revenue</h1><script>var x = 1;</script>
<p>Revenue grew   10%.</p><ul><li>Q1</li><li>Q2</li></ul></body></html>`

	text, err := HTMLText(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "Report\nRevenue\nRevenue grew 10%.\nQ1\nQ2", text)
}

func TestExtract_JSON(t *testing.T) {
	text, err := New().Extract(context.Background(), "json", []byte(`{"b": [1, {"c": true}], "a": "x", "n": null}`))
	require.NoError(t, err)
	assert.Equal(t, "a: x\nb: [0] 1\nb: [1] c: true\nn: null", text)

	_, err = New().Extract(context.Background(), "json", []byte(`{`))
	assert.True(t, apperr.Is(err, apperr.KindParseError))
}

func TestExtract_CSV(t *testing.T) {
	text, err := New().Extract(context.Background(), "csv", []byte("name, amount\nacme, 10\nglobex,\n"))
	require.NoError(t, err)
	assert.Equal(t, "Row 1:\nname: acme\namount: 10\n\nRow 2:\nname: globex\namount: No Data", text)
}

func TestExtract_PDFNativeFirst(t *testing.T) {
	native := &fakeNative{pdfText: "native text"}
	text, err := New(WithNative(native), quiet()).Extract(context.Background(), "pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "native text", text)
}

func TestExtract_PDFLocalFallbackOnGarbage(t *testing.T) {
	native := &fakeNative{pdfErr: errors.New("function rag.text_from_pdf does not exist")}
	_, err := New(WithNative(native), quiet()).Extract(context.Background(), "pdf", []byte("not a pdf"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindParseError))
}

func TestExtract_DocxRequiresNative(t *testing.T) {
	_, err := New().Extract(context.Background(), "docx", []byte("PK"))
	assert.True(t, apperr.Is(err, apperr.KindProviderUnavailable))

	text, err := New(WithNative(&fakeNative{docxText: "hello docx"})).Extract(context.Background(), "docx", []byte("PK"))
	require.NoError(t, err)
	assert.Equal(t, "hello docx", text)
}

func TestExtract_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			_, _ = io.WriteString(w, "<html><body><p>Hello from the web</p></body></html>")
		case "/file.docx":
			_, _ = io.WriteString(w, "PK")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := New(WithNative(&fakeNative{docxText: "docx body"}), WithHTTPClient(srv.Client()), quiet())

	text, err := e.Extract(context.Background(), "url", []byte(srv.URL+"/page"))
	require.NoError(t, err)
	assert.Equal(t, "Hello from the web", text)

	text, err = e.Extract(context.Background(), "url", []byte(srv.URL+"/file.docx"))
	require.NoError(t, err)
	assert.Equal(t, "docx body", text)

	_, err = e.Extract(context.Background(), "url", []byte(srv.URL+"/missing"))
	assert.True(t, apperr.Is(err, apperr.KindProviderError))

	_, err = e.Extract(context.Background(), "url", []byte("ftp://example.com/x"))
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestIsBinary(t *testing.T) {
	assert.True(t, IsBinary("pdf"))
	assert.True(t, IsBinary("DOCX"))
	assert.False(t, IsBinary("url"))
}
