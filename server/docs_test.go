package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocsGroup_PublishesOpenAPIFromTable(t *testing.T) {
	reg := NewRegistrar("/swagger", quietLogger())
	require.NoError(t, reg.Register(
		NewGroup("keygen", Route{Method: http.MethodPost, Pattern: "/keygen", Summary: "generate key", Handler: text("k")}),
		NewGroup("proxy", Route{Pattern: "/api/*", Handler: text("p")}),
	))
	require.NoError(t, reg.Register(NewDocsGroup(reg, DocsInfo{Title: "gw", Version: "1.2.3"})))

	h, err := reg.Handler()
	require.NoError(t, err)

	w := get(t, h, http.MethodGet, "/swagger/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var doc openAPIDoc
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc.OpenAPI)
	assert.Equal(t, "gw", doc.Info.Title)
	assert.Equal(t, "generate key", doc.Paths["/keygen"]["post"].Summary)
	assert.Len(t, doc.Paths["/api/*"], len(anyMethodOps))
	assert.NotContains(t, doc.Paths, "/swagger/json", "docs routes are hidden")
	assert.NotContains(t, doc.Paths, "/", "root redirect is hidden")
	assert.Equal(t, "Api-Key", doc.Components.SecuritySchemes["apiKey"].Name)

	idx := get(t, h, http.MethodGet, "/swagger")
	assert.Equal(t, http.StatusOK, idx.Code)
	assert.Contains(t, idx.Body.String(), "/keygen")
	assert.Contains(t, idx.Body.String(), `href="/swagger/json"`)
}
