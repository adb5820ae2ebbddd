// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/domquery/pkg/driver"
)

// -- Driver Mock --

// MockDriver mocks driver.Driver. Every method is recorded, so tests can
// assert both results and the number of protocol round trips.
type MockDriver struct {
	mock.Mock
}

var _ driver.Driver = (*MockDriver)(nil)

// --- Finder ---

func (m *MockDriver) FindAll(ctx context.Context, scope driver.NodeID, loc driver.Locator) ([]driver.NodeID, error) {
	args := m.Called(ctx, scope, loc)
	var ids []driver.NodeID
	if v := args.Get(0); v != nil {
		ids = v.([]driver.NodeID)
	}
	return ids, args.Error(1)
}

func (m *MockDriver) Matches(ctx context.Context, id driver.NodeID, loc driver.Locator) (bool, error) {
	args := m.Called(ctx, id, loc)
	return args.Bool(0), args.Error(1)
}

// --- Inspector ---

func (m *MockDriver) Attribute(ctx context.Context, id driver.NodeID, name string) (string, bool, error) {
	args := m.Called(ctx, id, name)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockDriver) Property(ctx context.Context, id driver.NodeID, name string) (string, bool, error) {
	args := m.Called(ctx, id, name)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockDriver) Text(ctx context.Context, id driver.NodeID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) OwnText(ctx context.Context, id driver.NodeID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) TagName(ctx context.Context, id driver.NodeID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) Checked(ctx context.Context, id driver.NodeID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) Displayed(ctx context.Context, id driver.NodeID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) Selected(ctx context.Context, id driver.NodeID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) OuterHTML(ctx context.Context, id driver.NodeID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) InnerHTML(ctx context.Context, id driver.NodeID) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

// --- Actuator ---

func (m *MockDriver) Click(ctx context.Context, id driver.NodeID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDriver) DoubleClick(ctx context.Context, id driver.NodeID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDriver) ContextClick(ctx context.Context, id driver.NodeID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDriver) ClickAndHold(ctx context.Context, id driver.NodeID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDriver) Release(ctx context.Context, id driver.NodeID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDriver) MoveTo(ctx context.Context, id driver.NodeID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockDriver) SendKeys(ctx context.Context, id driver.NodeID, keys string) error {
	return m.Called(ctx, id, keys).Error(0)
}

// --- Scripter and lifecycle ---

func (m *MockDriver) ExecuteScript(ctx context.Context, script string, res interface{}, args ...interface{}) error {
	return m.Called(ctx, script, res, args).Error(0)
}

func (m *MockDriver) Open(ctx context.Context, markup string) error {
	return m.Called(ctx, markup).Error(0)
}

func (m *MockDriver) PageText(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDriver) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Launcher Mock --

// MockLauncher mocks the function the browser pool uses to start drivers.
// It hands out the configured drivers in order and counts launches.
type MockLauncher struct {
	mock.Mock
	mu       sync.Mutex
	launched int
}

func (m *MockLauncher) Launch(ctx context.Context) (driver.Driver, error) {
	m.mu.Lock()
	m.launched++
	m.mu.Unlock()
	args := m.Called(ctx)
	var drv driver.Driver
	if v := args.Get(0); v != nil {
		drv = v.(driver.Driver)
	}
	return drv, args.Error(1)
}

// Launched returns how many times Launch was called.
func (m *MockLauncher) Launched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.launched
}
