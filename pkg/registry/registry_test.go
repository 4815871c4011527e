package registry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guido-cesarano/syncq/pkg/actions"
)

func okHandler(context.Context, json.RawMessage) (Result, error) {
	return Result{Success: true}, nil
}

func TestDomainBuilder(t *testing.T) {
	reg := New()
	var reconciled []string

	err := reg.Domain("widget").
		Handle("create", okHandler, WithValidator(func(json.RawMessage) error { return nil })).
		Handle("delete", okHandler).
		Reconciler(ReconcilerFunc(func(a actions.QueuedAction, _ bool, _ *Result) {
			reconciled = append(reconciled, a.Type)
		})).
		Err()
	require.NoError(t, err)

	assert.Equal(t, []string{"widget/create", "widget/delete"}, reg.Types())

	route, ok := reg.Lookup("widget/create")
	require.True(t, ok)
	assert.NotNil(t, route.Validate)

	route, ok = reg.Lookup("widget/delete")
	require.True(t, ok)
	assert.Nil(t, route.Validate)

	_, ok = reg.Lookup("widget/update")
	assert.False(t, ok)

	rc, ok := reg.ReconcilerFor("widget/anything")
	require.True(t, ok)
	rc.Reconcile(actions.QueuedAction{Type: "widget/anything"}, true, nil)
	assert.Equal(t, []string{"widget/anything"}, reconciled)

	_, ok = reg.ReconcilerFor("gadget/create")
	assert.False(t, ok)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Handle("widget/create", okHandler))

	err := reg.Handle("widget/create", okHandler)
	assert.ErrorIs(t, err, ErrDuplicateRoute)

	rc := ReconcilerFunc(func(actions.QueuedAction, bool, *Result) {})
	require.NoError(t, reg.Reconcile("widget", rc))
	assert.ErrorIs(t, reg.Reconcile("widget", rc), ErrDuplicateRoute)

	// The builder keeps the first error.
	err = reg.Domain("widget").Handle("create", okHandler).Handle("other", okHandler).Err()
	assert.ErrorIs(t, err, ErrDuplicateRoute)
	_, ok := reg.Lookup("widget/other")
	assert.False(t, ok)
}

func TestHandle_RequiresArguments(t *testing.T) {
	reg := New()
	assert.Error(t, reg.Handle("", okHandler))
	assert.Error(t, reg.Handle("widget/create", nil))
	assert.Error(t, reg.Reconcile("widget", nil))
}

func TestResultString(t *testing.T) {
	r := Result{Extra: map[string]any{"id": "server-1", "empty": "", "n": 3}}

	v, ok := r.String("id")
	assert.True(t, ok)
	assert.Equal(t, "server-1", v)

	_, ok = r.String("empty")
	assert.False(t, ok)
	_, ok = r.String("n")
	assert.False(t, ok)
	_, ok = Result{}.String("id")
	assert.False(t, ok)
}

type namePayload struct {
	Name string `json:"name"`
}

func TestValidateJSON(t *testing.T) {
	v := ValidateJSON(func(p namePayload) error {
		if p.Name == "" {
			return errors.New("name is required")
		}
		return nil
	})

	assert.NoError(t, v(json.RawMessage(`{"name":"a"}`)))
	assert.EqualError(t, v(json.RawMessage(`{"name":""}`)), "name is required")
	assert.Error(t, v(json.RawMessage(`{"name":"a","extra":1}`)), "unknown fields are rejected")
	assert.Error(t, v(json.RawMessage(`[1,2]`)))

	assert.NoError(t, ValidateJSON[namePayload](nil)(json.RawMessage(`{}`)))
}

func TestDecode(t *testing.T) {
	p, err := Decode[namePayload](json.RawMessage(`{"name":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "x", p.Name)
}
