package openapi

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPath(t *testing.T) {
	t.Run("substitutes placeholders", func(t *testing.T) {
		got, err := buildPath("/open-apis/foo/{id}/bar", map[string]string{"id": "123"})
		require.NoError(t, err)
		assert.Equal(t, "/open-apis/foo/123/bar", got)
	})

	t.Run("multiple placeholders", func(t *testing.T) {
		got, err := buildPath("/open-apis/im/v1/chats/{chat_id}/members/{member_id}",
			map[string]string{"chat_id": "oc_1", "member_id": "ou_2"})
		require.NoError(t, err)
		assert.Equal(t, "/open-apis/im/v1/chats/oc_1/members/ou_2", got)
	})

	t.Run("values are percent encoded", func(t *testing.T) {
		got, err := buildPath("/open-apis/foo/{id}", map[string]string{"id": "a/b c"})
		require.NoError(t, err)
		assert.Equal(t, "/open-apis/foo/a%2Fb%20c", got, "slashes must not extend the path")
	})

	t.Run("no placeholders passes through", func(t *testing.T) {
		got, err := buildPath("/open-apis/auth/v3/app_access_token/internal", nil)
		require.NoError(t, err)
		assert.Equal(t, "/open-apis/auth/v3/app_access_token/internal", got)
	})

	t.Run("missing param rejected", func(t *testing.T) {
		_, err := buildPath("/open-apis/foo/{id}", nil)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Error(), `missing path param "id"`)
	})

	t.Run("empty placeholder rejected", func(t *testing.T) {
		_, err := buildPath("/open-apis/foo/{}", map[string]string{"": "x"})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("unmatched open brace rejected", func(t *testing.T) {
		_, err := buildPath("/open-apis/foo/{id", map[string]string{"id": "1"})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("unmatched close brace rejected", func(t *testing.T) {
		_, err := buildPath("/open-apis/foo/id}", map[string]string{"id": "1"})
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})
}

func TestBuildQuery(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", buildQuery(nil))
	})

	t.Run("declaration order preserved", func(t *testing.T) {
		got := buildQuery([]QueryParam{
			{Key: "page_size", Value: "50"},
			{Key: "page_token", Value: "tok=="},
			{Key: "user_id_type", Value: "open_id"},
		})
		assert.Equal(t, "page_size=50&page_token=tok%3D%3D&user_id_type=open_id", got)
	})

	t.Run("repeated keys kept in order", func(t *testing.T) {
		got := buildQuery([]QueryParam{
			{Key: "status", Value: "active"},
			{Key: "status", Value: "pending"},
		})
		assert.Equal(t, "status=active&status=pending", got)
	})

	t.Run("keys and values escaped", func(t *testing.T) {
		got := buildQuery([]QueryParam{{Key: "q w", Value: "a&b"}})
		assert.Equal(t, "q+w=a%26b", got)
	})
}

func TestBuildBody(t *testing.T) {
	t.Run("nil body", func(t *testing.T) {
		reader, ct, err := buildBody(nil, "")
		require.NoError(t, err)
		assert.Nil(t, reader)
		assert.Empty(t, ct)
	})

	t.Run("struct marshalled as json", func(t *testing.T) {
		reader, ct, err := buildBody(map[string]string{"receive_id": "ou_1"}, "")
		require.NoError(t, err)
		assert.Equal(t, contentTypeJSON, ct)
		data, _ := io.ReadAll(reader)
		assert.JSONEq(t, `{"receive_id":"ou_1"}`, string(data))
	})

	t.Run("raw bytes pass through", func(t *testing.T) {
		payload := []byte{0x89, 0x50, 0x4e, 0x47}
		reader, ct, err := buildBody(payload, "image/png")
		require.NoError(t, err)
		assert.Equal(t, "image/png", ct)
		data, _ := io.ReadAll(reader)
		assert.Equal(t, payload, data)
	})

	t.Run("raw bytes default to octet stream", func(t *testing.T) {
		_, ct, err := buildBody([]byte("x"), "")
		require.NoError(t, err)
		assert.Equal(t, "application/octet-stream", ct)
	})

	t.Run("reader passes through untouched", func(t *testing.T) {
		src := bytes.NewReader([]byte("streamed"))
		reader, _, err := buildBody(src, "text/plain")
		require.NoError(t, err)
		assert.Same(t, io.Reader(src), reader)
	})

	t.Run("unmarshalable body rejected", func(t *testing.T) {
		_, _, err := buildBody(make(chan int), "")
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})
}

func TestRequestSpec_Validate(t *testing.T) {
	valid := func() *RequestSpec {
		return &RequestSpec{
			Method:             "GET",
			PathTemplate:       "/open-apis/foo",
			AcceptedTokenKinds: []TokenKind{TokenKindTenant},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().validate())
	})

	t.Run("empty method", func(t *testing.T) {
		spec := valid()
		spec.Method = ""
		assert.Error(t, spec.validate())
	})

	t.Run("relative path", func(t *testing.T) {
		spec := valid()
		spec.PathTemplate = "open-apis/foo"
		assert.Error(t, spec.validate())
	})

	t.Run("no token kinds without NoAuth", func(t *testing.T) {
		spec := valid()
		spec.AcceptedTokenKinds = nil
		assert.Error(t, spec.validate())
	})

	t.Run("NoAuth needs no token kinds", func(t *testing.T) {
		spec := valid()
		spec.AcceptedTokenKinds = nil
		spec.NoAuth = true
		assert.NoError(t, spec.validate())
	})

	t.Run("unknown token kind", func(t *testing.T) {
		spec := valid()
		spec.AcceptedTokenKinds = []TokenKind{TokenKind("bogus")}
		err := spec.validate()
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "bogus"))
	})
}

func TestRequestOptions(t *testing.T) {
	t.Run("headers accumulate", func(t *testing.T) {
		o := applyRequestOptions([]RequestOption{
			WithHeader("X-A", "1"),
			WithHeader("X-B", "2"),
			WithHeader("X-A", "3"),
		})
		assert.Equal(t, "3", o.headers["X-A"], "later option wins")
		assert.Equal(t, "2", o.headers["X-B"])
	})

	t.Run("non positive timeout ignored", func(t *testing.T) {
		o := applyRequestOptions([]RequestOption{WithRequestTimeout(-1)})
		assert.Zero(t, o.timeout)
	})

	t.Run("nil option skipped", func(t *testing.T) {
		o := applyRequestOptions([]RequestOption{nil, WithTenantKey("tn_1")})
		assert.Equal(t, "tn_1", o.tenantKey)
	})
}
