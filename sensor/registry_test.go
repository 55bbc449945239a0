package sensor

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/logging"
)

type fakeConfig struct {
	Topic string `json:"topic"`
}

func (c *fakeConfig) Validate(path string) error {
	if c.Topic == "" {
		return errors.Errorf("%s: topic is required", path)
	}
	return nil
}

type fakeModel struct {
	*AsyncModel
	conf *fakeConfig
}

// deregisterModel removes a model type registered by a test, so the test can run repeatedly.
func deregisterModel(modelType string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, modelType)
}

func TestRegistry(t *testing.T) {
	const modelType = "fake_sensor_model"
	t.Cleanup(func() { deregisterModel(modelType) })
	RegisterModel(modelType, Registration{
		Constructor: func(ctx context.Context, deps Dependencies, conf config.Component, logger logging.Logger) (Model, error) {
			test.That(t, deps.Clock, test.ShouldNotBeNil)
			return &fakeModel{AsyncModel: NewAsyncModel(logger, 1, Hooks{}), conf: conf.ConvertedAttributes.(*fakeConfig)}, nil
		},
		AttributeMapConverter: RegisterAttributes[*fakeConfig](),
	})
	test.That(t, func() { RegisterModel(modelType, Registration{}) }, test.ShouldPanic)
	test.That(t, func() { RegisterModel("other_fake_model", Registration{}) }, test.ShouldPanic)
	test.That(t, RegisteredModels(), test.ShouldContain, modelType)

	_, ok := LookupModel("nope")
	test.That(t, ok, test.ShouldBeFalse)

	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	_, err := NewFromConfig(ctx, Dependencies{}, config.Component{Name: "a", Type: "nope"}, "sensor_models.0", logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown sensor model type")

	_, err = NewFromConfig(ctx, Dependencies{}, config.Component{Name: "a", Type: modelType}, "sensor_models.0", logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "topic is required")

	_, err = NewFromConfig(ctx, Dependencies{}, config.Component{
		Name: "a", Type: modelType, Attributes: config.AttributeMap{"topik": "x"},
	}, "sensor_models.0", logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "error converting attributes")

	m, err := NewFromConfig(ctx, Dependencies{}, config.Component{
		Name: "a", Type: modelType, Attributes: config.AttributeMap{"topic": "x"},
	}, "sensor_models.0", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.(*fakeModel).conf.Topic, test.ShouldEqual, "x")
}
