package crawler

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// FileIdentity is what the classifier could determine about a resource from
// its URL, response headers and the first bytes of the body.
type FileIdentity struct {
	Name      string
	Extension string
	MIMEType  string
}

// IdentifyResource classifies a fetched resource. The name and extension come
// from the URL path; the MIME type from the Content-Type header, falling back
// to a guess from the extension, then to sniffing the body prefix. When the
// URL carries no extension but the MIME type maps to one, the extension is
// synthesized and appended to the name.
func IdentifyResource(rawURL, contentType string, bodyPrefix []byte) FileIdentity {
	var name string
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "/" || name == "." {
		name = ""
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))

	mimeType := mimeFromHeader(contentType)
	if mimeType == "" && ext != "" {
		mimeType = mimeFromHeader(mime.TypeByExtension("." + ext))
	}
	if mimeType == "" && len(bodyPrefix) > 0 {
		mimeType = mimeFromHeader(http.DetectContentType(bodyPrefix))
	}

	if ext == "" && mimeType != "" && mimeType != "application/octet-stream" {
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			ext = strings.TrimPrefix(exts[0], ".")
			if name != "" {
				name = name + "." + ext
			}
		}
	}

	return FileIdentity{Name: name, Extension: ext, MIMEType: mimeType}
}

// MatchesExtension reports whether the identity's extension is one of the
// targets. Comparison ignores case and leading dots on either side.
func (f FileIdentity) MatchesExtension(targets []string) bool {
	if f.Extension == "" {
		return false
	}
	for _, t := range targets {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "."))
		if t != "" && t == f.Extension {
			return true
		}
	}
	return false
}

func mimeFromHeader(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(header); err == nil {
		return strings.ToLower(mt)
	}
	if i := strings.Index(header, ";"); i >= 0 {
		header = header[:i]
	}
	return strings.ToLower(strings.TrimSpace(header))
}
