package match

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreproxy/coreproxy/internal/model"
)

func reqWithPath(p string) *model.Request {
	u, _ := url.Parse(p)
	r := &model.Request{URL: u}
	return r
}

func TestEval_PathPrefix(t *testing.T) {
	e := &Evaluator{}
	c := &model.Condition{Kind: model.LeafPath, Pattern: "/api/", Flavor: model.FlavorPrefix}
	var caps Caps
	ok, err := e.Eval(c, reqWithPath("/api/foo"), nil, &caps)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Eval(c, reqWithPath("/other"), nil, &caps)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEval_AndShortCircuits(t *testing.T) {
	e := &Evaluator{}
	bad := &model.Condition{Kind: model.LeafHost, Pattern: "("} // invalid regex, would error if evaluated
	falsy := &model.Condition{Kind: model.LeafPath, Pattern: "/nope", Flavor: model.FlavorExact}
	tree := model.And(falsy, bad)

	var caps Caps
	ok, err := e.Eval(tree, reqWithPath("/api"), nil, &caps)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEval_OrShortCircuits(t *testing.T) {
	e := &Evaluator{}
	truthy := &model.Condition{Kind: model.LeafPath, Pattern: "/api", Flavor: model.FlavorExact}
	bad := &model.Condition{Kind: model.LeafHost, Pattern: "("}
	tree := model.Or(truthy, bad)

	var caps Caps
	ok, err := e.Eval(tree, reqWithPath("/api"), nil, &caps)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_Not(t *testing.T) {
	e := &Evaluator{}
	leaf := &model.Condition{Kind: model.LeafPath, Pattern: "/api", Flavor: model.FlavorExact}
	tree := model.Not(leaf)

	var caps Caps
	ok, err := e.Eval(tree, reqWithPath("/api"), nil, &caps)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Eval(tree, reqWithPath("/other"), nil, &caps)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_CaptureVector(t *testing.T) {
	e := &Evaluator{}
	c := &model.Condition{Kind: model.LeafPath, Pattern: `^/old/(.*)$`, Flavor: model.FlavorERE}
	var caps Caps
	ok, err := e.Eval(c, reqWithPath("/old/foo/bar"), nil, &caps)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, caps.Vector, 2)
	assert.Equal(t, "foo/bar", caps.Vector[1])
}

func TestHostMatch_ICase(t *testing.T) {
	e := &Evaluator{}
	c := &model.Condition{Kind: model.LeafHost, Pattern: "a\\.example", Flags: model.LeafFlags{ICase: true}}
	r := reqWithPath("/")
	r.Host = "A.Example"
	var caps Caps
	ok, err := e.Eval(c, r, nil, &caps)
	require.NoError(t, err)
	assert.True(t, ok)
}
