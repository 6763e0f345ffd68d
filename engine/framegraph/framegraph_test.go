package framegraph

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func colorDesc(w, h uint32) driver.TextureDescriptor {
	return driver.TextureDescriptor{Width: w, Height: h, Format: driver.FormatRGBA8}
}

func TestWriteProducesNewVersion(t *testing.T) {
	g := NewGraph()

	type passData struct {
		in  TextureHandle
		out TextureHandle
	}
	p := AddPass(g, "produce", func(b *Builder, d *passData) {
		d.in = b.CreateTexture("color", colorDesc(64, 64))
		d.out = b.Write(d.in)
	}, func(r Resources, d *passData, drv driver.Driver) {})

	assert.True(t, p.Data.out.IsValid())
	assert.NotEqual(t, p.Data.in, p.Data.out)
}

func TestWriteSupersededVersionPanics(t *testing.T) {
	g := NewGraph()

	type passData struct {
		stale TextureHandle
	}
	p := AddPass(g, "first", func(b *Builder, d *passData) {
		d.stale = b.CreateTexture("color", colorDesc(64, 64))
		b.Write(d.stale)
	}, func(r Resources, d *passData, drv driver.Driver) {})

	assert.Panics(t, func() {
		AddPass(g, "second", func(b *Builder, d *passData) {
			b.Write(p.Data.stale)
		}, func(r Resources, d *passData, drv driver.Driver) {})
	})
}

func TestReadInvalidHandlePanics(t *testing.T) {
	g := NewGraph()

	type passData struct{}
	assert.Panics(t, func() {
		AddPass(g, "bad", func(b *Builder, d *passData) {
			b.Read(TextureHandle{})
		}, func(r Resources, d *passData, drv driver.Driver) {})
	})
}

func TestCompileCullsUnreadPasses(t *testing.T) {
	g := NewGraph()

	type passData struct {
		out TextureHandle
	}

	unread := AddPass(g, "unread", func(b *Builder, d *passData) {
		tex := b.CreateTexture("wasted", colorDesc(32, 32))
		d.out = b.Write(tex)
	}, func(r Resources, d *passData, drv driver.Driver) {
		t.Fatal("culled pass must not execute")
	})

	producer := AddPass(g, "producer", func(b *Builder, d *passData) {
		tex := b.CreateTexture("color", colorDesc(32, 32))
		d.out = b.Write(tex)
	}, func(r Resources, d *passData, drv driver.Driver) {})

	consumed := false
	consumer := AddPass(g, "consumer", func(b *Builder, d *passData) {
		b.Read(producer.Data.out)
		b.SideEffect()
	}, func(r Resources, d *passData, drv driver.Driver) {
		consumed = true
	})

	g.Compile()
	require.NoError(t, g.Execute(driver.NewNullDriver()))

	assert.True(t, unread.Culled())
	assert.False(t, producer.Culled())
	assert.False(t, consumer.Culled())
	assert.True(t, consumed)
}

func TestTransientLifetime(t *testing.T) {
	g := NewGraph()
	nd := driver.NewNullDriver()

	type passData struct {
		out TextureHandle
	}

	producer := AddPass(g, "producer", func(b *Builder, d *passData) {
		tex := b.CreateTexture("color", colorDesc(128, 128))
		d.out = b.Write(tex)
	}, func(r Resources, d *passData, drv driver.Driver) {
		assert.Equal(t, 1, nd.LiveTextures(), "transient must be live inside its writer")
	})

	AddPass(g, "consumer", func(b *Builder, d *passData) {
		b.Read(producer.Data.out)
		b.SideEffect()
	}, func(r Resources, d *passData, drv driver.Driver) {
		id := r.Texture(producer.Data.out)
		desc, ok := nd.TextureDesc(id)
		require.True(t, ok)
		assert.Equal(t, uint32(128), desc.Width)
	})

	require.NoError(t, g.Compile().Execute(nd))
	assert.Equal(t, 0, nd.LiveTextures(), "transients must be released after their last use")
	assert.Equal(t, 0, nd.LiveRenderTargets())
}

func TestImportedTextureNotOwned(t *testing.T) {
	nd := driver.NewNullDriver()
	id, err := nd.CreateTexture(colorDesc(256, 256))
	require.NoError(t, err)

	g := NewGraph()
	type passData struct {
		target TextureHandle
	}
	imported := g.Import("backbuffer", colorDesc(256, 256), id)

	AddPass(g, "blit", func(b *Builder, d *passData) {
		d.target = b.Write(imported)
	}, func(r Resources, d *passData, drv driver.Driver) {
		assert.Equal(t, id, r.Texture(d.target))
	})

	require.NoError(t, g.Compile().Execute(nd))
	assert.Equal(t, 1, nd.LiveTextures(), "imported textures are never destroyed by the graph")
}

func TestWriterOfImportedSurvivesCulling(t *testing.T) {
	nd := driver.NewNullDriver()
	id, err := nd.CreateTexture(colorDesc(64, 64))
	require.NoError(t, err)

	g := NewGraph()
	type passData struct{}
	imported := g.Import("output", colorDesc(64, 64), id)

	ran := false
	p := AddPass(g, "writer", func(b *Builder, d *passData) {
		b.Write(imported)
	}, func(r Resources, d *passData, drv driver.Driver) {
		ran = true
	})

	require.NoError(t, g.Compile().Execute(nd))
	assert.False(t, p.Culled())
	assert.True(t, ran)
}

func TestRenderPassParamsDiscard(t *testing.T) {
	g := NewGraph()
	nd := driver.NewNullDriver()

	type passData struct {
		out TextureHandle
		rt  RenderTargetHandle
	}

	producer := AddPass(g, "producer", func(b *Builder, d *passData) {
		tex := b.CreateTexture("color", colorDesc(64, 64))
		d.out = b.Write(tex)
		d.rt = b.DeclareRenderTarget(RenderTargetDescriptor{
			Color:      [4]Attachment{{Texture: d.out}},
			ClearFlags: driver.TargetBufferColor,
			ClearColor: [4]float32{1, 1, 1, 1},
		})
	}, func(r Resources, d *passData, drv driver.Driver) {
		params := r.RenderPassParams(d.rt)
		assert.Equal(t, driver.TargetBufferColor, params.ClearFlags)
		// Clear overrides start-of-pass discard.
		assert.Equal(t, driver.TargetBufferNone, params.DiscardStart)
		// The consumer still reads it, so no end-of-pass discard.
		assert.Equal(t, driver.TargetBufferNone, params.DiscardEnd)
		assert.Equal(t, [4]float32{1, 1, 1, 1}, params.ClearColor)
	})

	AddPass(g, "consumer", func(b *Builder, d *passData) {
		b.Read(producer.Data.out)
		b.SideEffect()
	}, func(r Resources, d *passData, drv driver.Driver) {})

	require.NoError(t, g.Compile().Execute(nd))
}

func TestBlackboard(t *testing.T) {
	g := NewGraph()

	type passData struct {
		out TextureHandle
	}
	p := AddPass(g, "producer", func(b *Builder, d *passData) {
		tex := b.CreateTexture("ssao", driver.TextureDescriptor{Width: 32, Height: 32, Format: driver.FormatR8})
		d.out = b.Write(tex)
	}, func(r Resources, d *passData, drv driver.Driver) {})

	g.Blackboard().Put("ssao", p.Data.out)

	got, ok := g.Blackboard().Get("ssao")
	require.True(t, ok)
	assert.Equal(t, p.Data.out, got)

	_, ok = g.Blackboard().Get("structure")
	assert.False(t, ok)

	g.Blackboard().Remove("ssao")
	_, ok = g.Blackboard().Get("ssao")
	assert.False(t, ok)
}

func TestLifecycleMisusePanics(t *testing.T) {
	type passData struct{}

	g := NewGraph()
	AddPass(g, "noop", func(b *Builder, d *passData) {
		b.SideEffect()
	}, func(r Resources, d *passData, drv driver.Driver) {})
	g.Compile()

	assert.Panics(t, func() { g.Compile() })
	assert.Panics(t, func() {
		AddPass(g, "late", func(b *Builder, d *passData) {}, func(r Resources, d *passData, drv driver.Driver) {})
	})

	require.NoError(t, g.Execute(driver.NewNullDriver()))
	assert.Panics(t, func() { _ = g.Execute(driver.NewNullDriver()) })

	g2 := NewGraph()
	assert.Panics(t, func() { _ = g2.Execute(driver.NewNullDriver()) })
}
