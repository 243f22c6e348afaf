package scene

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
	"github.com/AaronLay10/SceneWorkbench/internal/authority/authoritytest"
)

// memCatalog adds and renames services in an in-memory authority.
type memCatalog struct {
	auth    *authoritytest.Authority
	fail    error
	created []string
}

func (c *memCatalog) Scenes(context.Context) ([]authority.Scene, error) { return nil, nil }
func (c *memCatalog) CreateScene(context.Context, string) error        { return nil }
func (c *memCatalog) DeleteScene(context.Context, string) error        { return nil }
func (c *memCatalog) IncludedScenes(context.Context, string) ([]authority.Scene, error) {
	return nil, nil
}
func (c *memCatalog) ImportScene(context.Context, string, string) error { return nil }
func (c *memCatalog) DetachScene(context.Context, string, string) error { return nil }
func (c *memCatalog) Service(context.Context, string, string) (string, error) {
	return "", nil
}

func (c *memCatalog) CreateService(_ context.Context, scene, id, _ string) error {
	if c.fail != nil {
		return c.fail
	}
	c.created = append(c.created, id)
	c.auth.SetServices(scene, append(c.auth.Services(scene), authoritytest.Svc(id, scene))...)
	return nil
}

func (c *memCatalog) UpdateService(_ context.Context, scene, previousID, id, _ string) error {
	services := c.auth.Services(scene)
	for i := range services {
		if services[i].ID == previousID {
			services[i].ID = id
		}
	}
	c.auth.SetServices(scene, services...)
	return nil
}

func openWithCatalog(t *testing.T) (*Session, *memCatalog) {
	t.Helper()
	a := authoritytest.New()
	a.SetServices(viewed, exampleServices()...)
	cat := &memCatalog{auth: a}
	s, err := Open(context.Background(), viewed, Deps{Authority: a, Feed: authoritytest.NewFeed(), Catalog: cat}, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, cat
}

func TestCreateServiceReloads(t *testing.T) {
	s, cat := openWithCatalog(t)

	require.NoError(t, s.CreateService(context.Background(), "E", "image: nginx"))
	assert.Equal(t, []string{"E"}, cat.created)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, snap.NodeIDs(), "E")
}

func TestCreateServiceValidatesName(t *testing.T) {
	s, cat := openWithCatalog(t)
	ctx := context.Background()

	assert.True(t, authority.IsValidation(s.CreateService(ctx, "A", "")), "duplicate")
	assert.True(t, authority.IsValidation(s.CreateService(ctx, "-bad", "")), "pattern")
	assert.True(t, authority.IsValidation(s.CreateService(ctx, "", "")), "empty")
	assert.Empty(t, cat.created)
}

func TestCreateServiceFailure(t *testing.T) {
	s, cat := openWithCatalog(t)
	cat.fail = errors.New("disk full")

	err := s.CreateService(context.Background(), "E", "")
	assert.True(t, authority.IsAuthority(err))
}

func TestUpdateServiceRename(t *testing.T) {
	s, _ := openWithCatalog(t)
	ctx := context.Background()

	assert.True(t, authority.IsValidation(s.UpdateService(ctx, "B", "C", "")), "rename onto an existing id")
	require.NoError(t, s.UpdateService(ctx, "B", "B", "image: redis"), "same id keeps its own name")
	require.NoError(t, s.UpdateService(ctx, "B", "B2", ""))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, snap.NodeIDs(), "B2")
	assert.NotContains(t, snap.NodeIDs(), "B")
}

func TestServiceEditorsNeedCatalog(t *testing.T) {
	f := newFixture(t, Options{}, exampleServices()...)
	assert.ErrorIs(t, f.session.CreateService(context.Background(), "E", ""), ErrNoCatalog)
	assert.ErrorIs(t, f.session.UpdateService(context.Background(), "A", "A", ""), ErrNoCatalog)
}
