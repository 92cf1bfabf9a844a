package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/propagation"
)

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Storage.InMemory = true
	cfg.Transport.ListenAddr = "127.0.0.1:0"
	cfg.Discovery.Endpoint = "ws://127.0.0.1:7447/btp"
	return cfg
}

// ============================================================================
//                              Fx 模块测试
// ============================================================================

func TestOptions_Validate(t *testing.T) {
	require.NoError(t, fx.ValidateApp(Options(testConfig())...))
}

func TestModule_StartStop(t *testing.T) {
	var (
		n      *Node
		id     *Identity
		engine *propagation.Engine
	)
	app := fxtest.New(t, append(Options(testConfig()), fx.Populate(&n, &id, &engine))...)
	app.RequireStart()

	require.NotNil(t, n)
	require.NotNil(t, n.Handler())
	assert.Len(t, id.PubKey(), 64)

	// 启动时发布的节点公告已进入去重缓存
	assert.Equal(t, 1, engine.Stats().DedupEntries)

	app.RequireStop()
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Identity = config.IdentityConfig{}
	_, err := NewApp(cfg)
	assert.Error(t, err)
}
