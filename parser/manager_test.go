package parser

import (
	"context"
	"errors"
	"testing"

	"github.com/ortelius/vulnlsp/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	output map[string]string
	err    error
	dirs   []string
}

func (f *fakeRunner) run(_ context.Context, dir string, name string, _ ...string) ([]byte, error) {
	f.dirs = append(f.dirs, dir)
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.output[name]), nil
}

func newTestManager(options Options, runner *fakeRunner) *Manager {
	return NewDefaultManager(zap.NewNop(), nil, options, runner.run, nil, nil)
}

func TestManagerDispatch(t *testing.T) {
	manager := newTestManager(Options{DirectOnly: true}, &fakeRunner{})

	assert.True(t, manager.CanHandle("file:///work/Cargo.toml"))
	assert.True(t, manager.CanHandle("file:///work/module/pom.xml"))
	assert.False(t, manager.CanHandle("file:///work/package.json"))

	_, err := manager.Parse(context.Background(), "file:///work/package.json", "{}")
	assert.True(t, errors.Is(err, ErrNoParserFound))
}

func TestManagerTransitiveCargo(t *testing.T) {
	runner := &fakeRunner{output: map[string]string{"cargo": cargoMetadataOutput}}
	manager := newTestManager(Options{}, runner)

	content, err := manager.Parse(context.Background(), "file:///work/demo/Cargo.toml", "[dependencies]\nanyhow = \"1.0.75\"\ntokio = \"1.34\"\n")
	require.NoError(t, err)

	assert.Equal(t, model.ResolutionTransitive, content.Resolution)
	assert.True(t, content.TransitivesResolved())
	assert.Equal(t, []string{"/work/demo"}, runner.dirs)

	anyhow := cargo("anyhow", "1.0.79")
	tokio := cargo("tokio", "1.34.0")
	assert.Equal(t, model.MetadataDependencies{
		anyhow: model.NewRange(1, 0, 1, 17),
		tokio:  model.NewRange(2, 0, 2, 14),
	}, content.Ranges)
	assert.Len(t, content.Closure(tokio), 3)
	assert.Equal(t, []model.Purl{anyhow}, content.Closure(anyhow))
}

func TestManagerTransitiveMavenReconcilesProperties(t *testing.T) {
	pom := `<project>
  <dependencies>
    <dependency>
      <groupId>org.a</groupId>
      <artifactId>a</artifactId>
      <version>${a.version}</version>
    </dependency>
    <dependency>
      <groupId>org.z</groupId>
      <artifactId>unused</artifactId>
      <version>9.9</version>
    </dependency>
  </dependencies>
</project>`

	runner := &fakeRunner{output: map[string]string{"mvn": mavenTreeOutput}}
	manager := newTestManager(Options{}, runner)

	content, err := manager.Parse(context.Background(), "file:///work/pom.xml", pom)
	require.NoError(t, err)

	a := maven("org.a", "a", "1.0")
	unused := maven("org.z", "unused", "9.9")
	assert.Equal(t, model.NewRange(2, 4, 6, 17), content.Ranges[a])
	assert.Equal(t, model.NewRange(7, 4, 11, 17), content.Ranges[unused])
	assert.Equal(t, []model.Purl{a, maven("org.c", "c", "3.0")}, content.Closure(a))
	assert.Equal(t, []model.Purl{unused}, content.Closure(unused))
}

func TestManagerBuildFailure(t *testing.T) {
	manifest := "[dependencies]\ntokio = \"1.34.0\"\n"
	tokio := cargo("tokio", "1.34.0")

	t.Run("propagates without fallback", func(t *testing.T) {
		manager := newTestManager(Options{}, &fakeRunner{err: errors.New("cargo not installed")})

		_, err := manager.Parse(context.Background(), "file:///work/Cargo.toml", manifest)
		var buildErr *BuildDependencyError
		assert.True(t, errors.As(err, &buildErr))
	})

	t.Run("falls back when configured", func(t *testing.T) {
		manager := newTestManager(Options{FallbackOnBuildError: true}, &fakeRunner{err: errors.New("cargo not installed")})

		content, err := manager.Parse(context.Background(), "file:///work/Cargo.toml", manifest)
		require.NoError(t, err)
		assert.Equal(t, model.ResolutionFallback, content.Resolution)
		assert.False(t, content.TransitivesResolved())
		assert.Equal(t, model.BuildDependencies{tokio: {tokio}}, content.Transitives)
	})

	t.Run("direct only never runs the build tool", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("must not run")}
		manager := newTestManager(Options{DirectOnly: true}, runner)

		content, err := manager.Parse(context.Background(), "file:///work/Cargo.toml", manifest)
		require.NoError(t, err)
		assert.Equal(t, model.ResolutionDirectOnly, content.Resolution)
		assert.Empty(t, runner.dirs)
	})
}

func TestManagerManifestErrorIsNotMaskedByFallback(t *testing.T) {
	manager := newTestManager(Options{FallbackOnBuildError: true}, &fakeRunner{})

	_, err := manager.Parse(context.Background(), "file:///work/Cargo.toml", "garbage")
	var parseErr *ManifestParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestClosureSelfInclusion(t *testing.T) {
	for _, deps := range []func() (model.BuildDependencies, error){
		func() (model.BuildDependencies, error) { return parseCargoMetadata([]byte(cargoMetadataOutput)) },
		func() (model.BuildDependencies, error) { return parseMavenTree(mavenTreeOutput) },
	} {
		result, err := deps()
		require.NoError(t, err)
		for direct, closure := range result {
			assert.Contains(t, closure, direct)
		}
	}
}
