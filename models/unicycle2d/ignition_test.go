package unicycle2d

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/fuse/config"
	"go.viam.com/fuse/constraint"
	"go.viam.com/fuse/logging"
	"go.viam.com/fuse/msgs"
	"go.viam.com/fuse/sensor"
	"go.viam.com/fuse/transaction"
	"go.viam.com/fuse/transport"
	"go.viam.com/fuse/utils"
	"go.viam.com/fuse/variable"
)

const waitTime = 5 * time.Second

func stringPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func testConfig() *Config {
	return &Config{
		InitialState: []float64{0.1, 1.2, 2.3, 3.4, 4.5, 5.6, 6.7, 7.8},
		InitialSigma: []float64{1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0},
	}
}

// transactionSlot captures the first transaction handed to the callback.
type transactionSlot struct {
	first *utils.OneShot[*transaction.Transaction]
	count atomic.Int32
}

func newTransactionSlot() *transactionSlot {
	return &transactionSlot{first: utils.NewOneShot[*transaction.Transaction]()}
}

func (s *transactionSlot) callback(ctx context.Context, tx *transaction.Transaction) error {
	s.count.Inc()
	s.first.Set(tx)
	return nil
}

func newIgnition(t *testing.T, bus *transport.Bus, conf *Config, callback sensor.TransactionCallback) *Ignition {
	t.Helper()
	m, err := NewIgnition(sensor.Dependencies{Bus: bus, Clock: clock.NewMock()}, conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Initialize(context.Background(), "ignition_sensor", callback), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, m.Close(context.Background()), test.ShouldBeNil)
	})
	return m
}

func absoluteFor(t *testing.T, tx *transaction.Transaction, kind variable.Kind) *constraint.Absolute {
	t.Helper()
	for _, c := range tx.AddedConstraints() {
		if abs, ok := c.(*constraint.Absolute); ok && abs.Kind().Name == kind.Name {
			return abs
		}
	}
	t.Fatalf("no absolute %s constraint in %s", kind.Name, tx)
	return nil
}

func checkPrior(t *testing.T, tx *transaction.Transaction, kind variable.Kind, mean, covDiag []float64, tol float64) {
	t.Helper()
	c := absoluteFor(t, tx, kind)
	test.That(t, c.Source(), test.ShouldEqual, "ignition_sensor")
	for i, expected := range mean {
		test.That(t, c.Mean()[i], test.ShouldAlmostEqual, expected, tol)
	}
	expected := mat.NewDiagDense(len(covDiag), covDiag)
	test.That(t, mat.EqualApprox(c.Covariance(), expected, 1e-9), test.ShouldBeTrue)
}

func checkVelocityAndAcceleration(t *testing.T, tx *transaction.Transaction) {
	t.Helper()
	checkPrior(t, tx, variable.VelocityLinear2D, []float64{3.4, 4.5}, []float64{16, 25}, 1e-9)
	checkPrior(t, tx, variable.VelocityAngular2D, []float64{5.6}, []float64{36}, 1e-9)
	checkPrior(t, tx, variable.AccelerationLinear2D, []float64{6.7, 7.8}, []float64{49, 64}, 1e-9)
}

func poseRequest() msgs.SetPoseRequest {
	var req msgs.SetPoseRequest
	req.Pose.Header.Stamp = time.Unix(12, 345678910)
	req.Pose.Pose.Pose = msgs.Pose{
		Position:    r3.Vector{X: 1.0, Y: 2.0},
		Orientation: quat.Number{Real: 0.9987503, Kmag: 0.0499792}, // yaw = 0.1rad
	}
	req.Pose.Pose.Covariance[0] = 1.0
	req.Pose.Pose.Covariance[7] = 2.0
	req.Pose.Pose.Covariance[35] = 3.0
	return req
}

func TestInitialTransaction(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	slot := newTransactionSlot()
	m := newIgnition(t, bus, testConfig(), slot.callback)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	tx, ok := slot.first.WaitFor(waitTime)
	test.That(t, ok, test.ShouldBeTrue)
	checkPrior(t, tx, variable.Position2D, []float64{0.1, 1.2}, []float64{1, 4}, 1e-9)
	checkPrior(t, tx, variable.Orientation2D, []float64{2.3}, []float64{9}, 1e-9)
	checkVelocityAndAcceleration(t, tx)
	test.That(t, len(tx.AddedVariables()), test.ShouldEqual, 5)
	test.That(t, tx.InvolvedStamps(), test.ShouldResemble, []time.Time{tx.Stamp()})

	// restarting does not seed again
	test.That(t, m.Stop(context.Background()), test.ShouldBeNil)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)
	time.Sleep(50 * time.Millisecond)
	test.That(t, slot.count.Load(), test.ShouldEqual, 1)
}

func TestSkipInitialTransaction(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.PublishOnStartup = boolPtr(false)
	slot := newTransactionSlot()
	m := newIgnition(t, bus, conf, slot.callback)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	_, ok := slot.first.WaitFor(time.Second)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestSetPoseService(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.ResetService = stringPtr("")
	conf.PublishOnStartup = boolPtr(false)
	slot := newTransactionSlot()
	m := newIgnition(t, bus, conf, slot.callback)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := transport.Call[msgs.SetPoseRequest, msgs.SetPoseResponse](ctx, bus, "set_pose", poseRequest())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeTrue)

	tx, ok := slot.first.WaitFor(waitTime)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, tx.Stamp(), test.ShouldEqual, time.Unix(12, 345678910))
	checkPrior(t, tx, variable.Position2D, []float64{1.0, 2.0}, []float64{1, 2}, 1e-9)
	checkPrior(t, tx, variable.Orientation2D, []float64{0.1}, []float64{3}, 1e-5)
	checkVelocityAndAcceleration(t, tx)
}

func TestSetPoseDeprecatedService(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.ResetService = stringPtr("")
	conf.PublishOnStartup = boolPtr(false)
	slot := newTransactionSlot()
	m := newIgnition(t, bus, conf, slot.callback)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := transport.Call[msgs.SetPoseDeprecatedRequest, msgs.SetPoseDeprecatedResponse](
		ctx, bus, "set_pose_deprecated", msgs.SetPoseDeprecatedRequest{Pose: poseRequest().Pose})
	test.That(t, err, test.ShouldBeNil)

	tx, ok := slot.first.WaitFor(waitTime)
	test.That(t, ok, test.ShouldBeTrue)
	checkPrior(t, tx, variable.Position2D, []float64{1.0, 2.0}, []float64{1, 2}, 1e-9)
	checkPrior(t, tx, variable.Orientation2D, []float64{0.1}, []float64{3}, 1e-5)
	checkVelocityAndAcceleration(t, tx)
}

func TestSetPoseWithTwistAndAccel(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.ResetService = stringPtr("")
	conf.PublishOnStartup = boolPtr(false)
	slot := newTransactionSlot()
	m := newIgnition(t, bus, conf, slot.callback)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	req := poseRequest()
	req.Twist = &msgs.TwistWithCovariance{Twist: msgs.Twist{Linear: r3.Vector{X: 0.5, Y: -0.5}, Angular: r3.Vector{Z: 0.25}}}
	req.Twist.Covariance[0], req.Twist.Covariance[7], req.Twist.Covariance[35] = 0.1, 0.2, 0.3
	req.Accel = &msgs.AccelWithCovariance{Accel: msgs.Accel{Linear: r3.Vector{X: 1, Y: 2}}}
	req.Accel.Covariance[0], req.Accel.Covariance[7] = 0.4, 0.5

	resp, err := transport.Call[msgs.SetPoseRequest, msgs.SetPoseResponse](context.Background(), bus, "set_pose", req)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeTrue)

	tx, ok := slot.first.WaitFor(waitTime)
	test.That(t, ok, test.ShouldBeTrue)
	checkPrior(t, tx, variable.VelocityLinear2D, []float64{0.5, -0.5}, []float64{0.1, 0.2}, 1e-9)
	checkPrior(t, tx, variable.VelocityAngular2D, []float64{0.25}, []float64{0.3}, 1e-9)
	checkPrior(t, tx, variable.AccelerationLinear2D, []float64{1, 2}, []float64{0.4, 0.5}, 1e-9)
}

func TestSetPoseRejectsBadCovariance(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	var resets atomic.Int32
	_, err := transport.Advertise(bus, "reset", func(ctx context.Context, req msgs.ResetRequest) (msgs.ResetResponse, error) {
		resets.Inc()
		return msgs.ResetResponse{}, nil
	})
	test.That(t, err, test.ShouldBeNil)

	conf := testConfig()
	conf.PublishOnStartup = boolPtr(false)
	slot := newTransactionSlot()
	m := newIgnition(t, bus, conf, slot.callback)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	req := poseRequest()
	req.Pose.Pose.Covariance[1] = 0.5 // x-y entry without its mirror
	resp, err := transport.Call[msgs.SetPoseRequest, msgs.SetPoseResponse](context.Background(), bus, "set_pose", req)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeFalse)
	test.That(t, resp.Message, test.ShouldContainSubstring, "not symmetric")

	req = poseRequest()
	req.Pose.Pose.Covariance[35] = -3
	resp, err = transport.Call[msgs.SetPoseRequest, msgs.SetPoseResponse](context.Background(), bus, "set_pose", req)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeFalse)
	test.That(t, resp.Message, test.ShouldContainSubstring, "positive definite")

	req = poseRequest()
	req.Pose.Pose.Pose.Orientation = quat.Number{}
	resp, err = transport.Call[msgs.SetPoseRequest, msgs.SetPoseResponse](context.Background(), bus, "set_pose", req)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeFalse)

	test.That(t, resets.Load(), test.ShouldEqual, 0)
	test.That(t, slot.count.Load(), test.ShouldEqual, 0)
}

func TestSetPoseDisableChecks(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.PublishOnStartup = boolPtr(false)
	conf.ResetService = stringPtr("")
	conf.DisableChecks = true
	slot := newTransactionSlot()
	m := newIgnition(t, bus, conf, slot.callback)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	req := poseRequest()
	req.Pose.Pose.Covariance[35] = -3
	resp, err := transport.Call[msgs.SetPoseRequest, msgs.SetPoseResponse](context.Background(), bus, "set_pose", req)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeTrue)
	_, ok := slot.first.WaitFor(waitTime)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestPoseTopicResetsThenSeeds(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.PublishOnStartup = boolPtr(false)
	slot := newTransactionSlot()
	m := newIgnition(t, bus, conf, slot.callback)

	var resets atomic.Int32
	_, err := transport.Advertise(bus, "reset", func(ctx context.Context, req msgs.ResetRequest) (msgs.ResetResponse, error) {
		resets.Inc()
		test.That(t, slot.count.Load(), test.ShouldEqual, 0)
		if err := m.Stop(ctx); err != nil {
			return msgs.ResetResponse{}, err
		}
		return msgs.ResetResponse{}, m.Start(ctx)
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	test.That(t, bus.Publish("set_pose", poseRequest().Pose), test.ShouldEqual, 1)
	tx, ok := slot.first.WaitFor(waitTime)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, resets.Load(), test.ShouldEqual, 1)
	checkPrior(t, tx, variable.Position2D, []float64{1.0, 2.0}, []float64{1, 2}, 1e-9)
}

func TestPoseTopicSeedsAfterEveryReset(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.PublishOnStartup = boolPtr(false)
	slot := newTransactionSlot()
	m := newIgnition(t, bus, conf, slot.callback)

	_, err := transport.Advertise(bus, "reset", func(ctx context.Context, req msgs.ResetRequest) (msgs.ResetResponse, error) {
		if err := m.Stop(ctx); err != nil {
			return msgs.ResetResponse{}, err
		}
		return msgs.ResetResponse{}, m.Start(ctx)
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	// The reset cancels the delivery context of the message that requested it.
	for i := 1; i <= 50; i++ {
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, bus.NumSubscribers("set_pose"), test.ShouldEqual, 1)
		})
		test.That(t, bus.Publish("set_pose", poseRequest().Pose), test.ShouldEqual, 1)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			tb.Helper()
			test.That(tb, slot.count.Load(), test.ShouldEqual, i)
		})
	}
}

func TestConcurrentStartStop(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.PublishOnStartup = boolPtr(false)
	m := newIgnition(t, bus, conf, newTransactionSlot().callback)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			test.That(t, m.Start(ctx), test.ShouldBeNil)
		}()
		go func() {
			defer wg.Done()
			test.That(t, m.Stop(ctx), test.ShouldBeNil)
		}()
	}
	wg.Wait()

	expected := 0
	if m.lifecycle.State() == sensor.StateStarted {
		expected = 1
	}
	test.That(t, bus.NumSubscribers("set_pose"), test.ShouldEqual, expected)
	test.That(t, m.Start(ctx), test.ShouldBeNil)
	test.That(t, bus.NumSubscribers("set_pose"), test.ShouldEqual, 1)
	test.That(t, m.Stop(ctx), test.ShouldBeNil)
	test.That(t, bus.NumSubscribers("set_pose"), test.ShouldEqual, 0)
}

func TestResetFromOwnCallback(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.PublishOnStartup = boolPtr(false)

	var (
		mu  sync.Mutex
		txs []*transaction.Transaction
		m   *Ignition
	)
	callback := func(ctx context.Context, tx *transaction.Transaction) error {
		mu.Lock()
		txs = append(txs, tx)
		first := len(txs) == 1
		mu.Unlock()
		if first {
			// runs on the model's own executor
			_, err := transport.Call[msgs.ResetRequest, msgs.ResetResponse](ctx, bus, "reset", msgs.ResetRequest{})
			return err
		}
		return nil
	}
	m = newIgnition(t, bus, conf, callback)

	var resets atomic.Int32
	_, err := transport.Advertise(bus, "reset", func(ctx context.Context, req msgs.ResetRequest) (msgs.ResetResponse, error) {
		resets.Inc()
		if err := m.Stop(ctx); err != nil {
			return msgs.ResetResponse{}, err
		}
		return msgs.ResetResponse{}, m.Start(ctx)
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Start(context.Background()), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), waitTime)
	defer cancel()
	resp, err := transport.Call[msgs.SetPoseRequest, msgs.SetPoseResponse](ctx, bus, "set_pose", poseRequest())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeTrue)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	test.That(t, len(txs), test.ShouldEqual, 1)
	mu.Unlock()
	test.That(t, resets.Load(), test.ShouldEqual, 2)

	// the model is still usable after resetting itself
	resp, err = transport.Call[msgs.SetPoseRequest, msgs.SetPoseResponse](ctx, bus, "set_pose", poseRequest())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeTrue)
	mu.Lock()
	test.That(t, len(txs), test.ShouldEqual, 2)
	mu.Unlock()
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewBus(logging.NewTestLogger(t))
	conf := testConfig()
	conf.PublishOnStartup = boolPtr(false)
	m, err := NewIgnition(sensor.Dependencies{Bus: bus}, conf, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, m.Start(ctx), test.ShouldEqual, sensor.ErrNotInitialized)
	test.That(t, m.Stop(ctx), test.ShouldEqual, sensor.ErrNotInitialized)
	slot := newTransactionSlot()
	test.That(t, m.Initialize(ctx, "ignition_sensor", slot.callback), test.ShouldBeNil)
	test.That(t, m.Initialize(ctx, "ignition_sensor", slot.callback), test.ShouldEqual, sensor.ErrAlreadyInitialized)
	test.That(t, m.Name(), test.ShouldEqual, "ignition_sensor")

	test.That(t, m.Start(ctx), test.ShouldBeNil)
	test.That(t, m.Start(ctx), test.ShouldBeNil)
	test.That(t, bus.NumSubscribers("set_pose"), test.ShouldEqual, 1)

	test.That(t, m.Stop(ctx), test.ShouldBeNil)
	test.That(t, m.Stop(ctx), test.ShouldBeNil)
	test.That(t, bus.NumSubscribers("set_pose"), test.ShouldEqual, 0)
	_, err = transport.Call[msgs.SetPoseRequest, msgs.SetPoseResponse](ctx, bus, "set_pose", poseRequest())
	test.That(t, transport.IsServiceNotFoundError(err), test.ShouldBeTrue)

	test.That(t, m.Close(ctx), test.ShouldBeNil)
	test.That(t, m.Start(ctx), test.ShouldEqual, sensor.ErrShutdown)
	test.That(t, m.Close(ctx), test.ShouldBeNil)
}

func TestConfigValidate(t *testing.T) {
	conf := &Config{}
	test.That(t, conf.Validate("path"), test.ShouldBeNil)
	test.That(t, conf.InitialState, test.ShouldResemble, make([]float64, StateSize))
	test.That(t, conf.InitialSigma[0], test.ShouldEqual, 1e-9)
	test.That(t, *conf.PublishOnStartup, test.ShouldBeTrue)
	test.That(t, *conf.SetPoseService, test.ShouldEqual, "set_pose")
	test.That(t, *conf.SetPoseDeprecatedService, test.ShouldEqual, "set_pose_deprecated")
	test.That(t, *conf.ResetService, test.ShouldEqual, "reset")
	test.That(t, *conf.Topic, test.ShouldEqual, "set_pose")
	test.That(t, conf.QueueSize, test.ShouldEqual, 10)

	for _, bad := range []*Config{
		{InitialState: []float64{1, 2}},
		{InitialSigma: []float64{1, 2, 3, 4, 5, 6, 7, 0}},
		{QueueSize: -1},
		{SetPoseService: stringPtr("same"), SetPoseDeprecatedService: stringPtr("same")},
		{ResetService: stringPtr("set_pose")},
	} {
		test.That(t, bad.Validate("path"), test.ShouldNotBeNil)
	}

	// empty names disable entry points
	conf = &Config{SetPoseService: stringPtr(""), SetPoseDeprecatedService: stringPtr(""), ResetService: stringPtr("")}
	test.That(t, conf.Validate("path"), test.ShouldBeNil)
	test.That(t, *conf.SetPoseService, test.ShouldEqual, "")
}

func TestRegistration(t *testing.T) {
	bus := transport.NewBus(logging.NewTestLogger(t))
	m, err := sensor.NewFromConfig(context.Background(), sensor.Dependencies{Bus: bus}, config.Component{
		Name: "ignition",
		Type: ModelType,
		Attributes: config.AttributeMap{
			"initial_state":      []interface{}{0.1, 1.2, 2.3, 3.4, 4.5, 5.6, 6.7, 7.8},
			"publish_on_startup": false,
			"reset_service":      "",
		},
	}, "sensor_models.0", logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	ignition, ok := m.(*Ignition)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, *ignition.conf.ResetService, test.ShouldEqual, "")
	test.That(t, *ignition.conf.PublishOnStartup, test.ShouldBeFalse)
	test.That(t, ignition.conf.InitialState[2], test.ShouldEqual, 2.3)
}
