package api

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"net/http"
	"time"
)

//go:embed openapi/openapi.yaml
var openAPIDocument []byte

// openAPIETag is fixed for the life of the binary; replicas built from the
// same commit report the same tag, so caches in front of the balancer hit.
var openAPIETag = func() string {
	sum := sha256.Sum256(openAPIDocument)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}()

// ServeOpenAPISpec serves the embedded OpenAPI document. Conditional
// requests carrying the current ETag get 304.
func (h *Handlers) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", openAPIETag)
	http.ServeContent(w, r, "openapi.yaml", time.Time{}, bytes.NewReader(openAPIDocument))
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Gatekeeper API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/api/openapi.yaml',
      dom_id: '#swagger-ui',
      persistAuthorization: true,
      showExtensions: true,
      displayRequestDuration: true,
      requestInterceptor: (req) => { req.headers['X-Request-ID'] = 'docs-' + Date.now(); return req; },
      responseInterceptor: (res) => {
        const left = res.headers['x-ratelimit-remaining'];
        if (left !== undefined) console.info('rate limit remaining', left);
        return res;
      }
    });
  </script>
</body>
</html>`

// ServeSwaggerUI serves a Swagger UI page for the embedded document. Bearer
// tokens entered there persist across reloads.
func (h *Handlers) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(swaggerUIHTML))
}
