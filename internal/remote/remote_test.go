package remote

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/avcs/internal/dag"
	"github.com/roach88/avcs/internal/machine"
	"github.com/roach88/avcs/internal/merge"
	"github.com/roach88/avcs/internal/store"
	"github.com/roach88/avcs/internal/testutil"
)

type node struct {
	m   *machine.Machine[testutil.RegOp, int]
	reg *testutil.Register
}

func newNode(prefix string) node {
	reg := testutil.NewRegister()
	m := machine.New[testutil.RegOp, int](
		store.NewMemory[testutil.RegOp, int](),
		reg,
		merge.Fail[testutil.RegOp, int](),
		machine.WithIDGenerator(testutil.NewSeqGenerator(prefix)),
		machine.WithLogger(slog.New(slog.DiscardHandler)),
	)
	return node{m: m, reg: reg}
}

func serve(t *testing.T, n node) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer[testutil.RegOp, int](n.m, slog.New(slog.DiscardHandler)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestSyncOverHTTP(t *testing.T) {
	ctx := context.Background()
	a, b := newNode("a"), newNode("b")
	_, err := a.m.Init(ctx)
	require.NoError(t, err)
	_, err = a.m.Run(ctx, testutil.Set("x", 1))
	require.NoError(t, err)

	srv := serve(t, a)
	client := NewClient[testutil.RegOp, int](srv.URL, WithPageSize(1))

	_, err = b.m.Sync(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1}, b.reg.Values())

	_, err = a.m.Run(ctx, testutil.Add("y", 2))
	require.NoError(t, err)
	_, err = b.m.Run(ctx, testutil.Set("z", 3))
	require.NoError(t, err)

	merged, err := b.m.Sync(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, dag.KindMerge, merged.Kind)

	want := map[string]int{"x": 1, "y": 2, "z": 3}
	assert.Equal(t, want, b.reg.Values())
	assert.Equal(t, want, a.reg.Values())

	cur, err := a.m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, merged.ID, cur.ID)
	assert.Equal(t, merged.Parents, cur.Parents, "merge records survive the round trip")
}

func TestCloneOverHTTPKeepsMergedBranches(t *testing.T) {
	ctx := context.Background()
	a, b := newNode("a"), newNode("b")
	root, err := a.m.Init(ctx)
	require.NoError(t, err)
	side, err := a.m.Run(ctx, testutil.Set("x", 1))
	require.NoError(t, err)
	_, err = a.m.Checkout(ctx, root.ID)
	require.NoError(t, err)
	_, err = a.m.Run(ctx, testutil.Set("y", 2))
	require.NoError(t, err)
	_, err = a.m.Merge(ctx, side.ID)
	require.NoError(t, err)

	client := NewClient[testutil.RegOp, int](serve(t, a).URL, WithPageSize(2))
	_, err = b.m.Sync(ctx, client)
	require.NoError(t, err)

	entries, err := b.m.Graph(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	page, err := client.Fetch(ctx, side.ID, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []string{side.ID, root.ID}, []string{page[0].ID, page[1].ID})
}

func TestFetchPages(t *testing.T) {
	ctx := context.Background()
	a := newNode("a")
	_, err := a.m.Init(ctx)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err = a.m.Run(ctx, testutil.Add("n", i))
		require.NoError(t, err)
	}
	client := NewClient[testutil.RegOp, int](serve(t, a).URL, WithPageSize(2))

	page, err := client.Fetch(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a4", page[0].ID)
	assert.Equal(t, testutil.Add("n", 3), page[0].Data)

	page, err = client.Fetch(ctx, "", page[1].ID)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, []string{"a2", "a1"}, []string{page[0].ID, page[1].ID})
	assert.Equal(t, dag.KindInit, page[1].Kind)

	page, err = client.Fetch(ctx, "", "a1")
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	a := newNode("a")
	_, err := a.m.Init(ctx)
	require.NoError(t, err)
	client := NewClient[testutil.RegOp, int](serve(t, a).URL)

	_, err = client.Fetch(ctx, "", "missing")
	require.Error(t, err)
	assert.True(t, dag.IsNotFound(err))

	bad := dag.Action[testutil.RegOp, int]{Kind: dag.KindNormal, ID: "x"}
	err = client.Submit(ctx, []dag.Action[testutil.RegOp, int]{bad})
	require.Error(t, err)
	assert.ErrorIs(t, err, dag.ErrInvalidAction)
}

func TestServerRejectsBadRequests(t *testing.T) {
	a := newNode("a")
	_, err := a.m.Init(context.Background())
	require.NoError(t, err)
	h := NewServer[testutil.RegOp, int](a.m, slog.New(slog.DiscardHandler)).Handler()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"zero limit", http.MethodGet, "/actions?limit=0", "", http.StatusBadRequest},
		{"text limit", http.MethodGet, "/actions?limit=ten", "", http.StatusBadRequest},
		{"bad json", http.MethodPost, "/actions", "{", http.StatusBadRequest},
		{"unknown cursor", http.MethodGet, "/actions?after=nope", "", http.StatusNotFound},
		{"unknown start", http.MethodGet, "/actions?from=nope", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/actions", "", http.StatusMethodNotAllowed},
		{"empty submit", http.MethodPost, "/actions", "[]", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(dag.NewNotFoundError("a")))
	assert.Equal(t, http.StatusConflict, statusFor(dag.NewNoCommonAncestorError(1, 1)))
	assert.Equal(t, http.StatusBadRequest, statusFor(dag.NewInvalidActionError("a", "bad")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestFormatMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(FormatHeader, "0")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := NewClient[testutil.RegOp, int](srv.URL)
	_, err := c.Fetch(context.Background(), "", "")
	assert.ErrorContains(t, err, "action format 0")
}
