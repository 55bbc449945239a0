package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/fuse/logging"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))

	var mu sync.Mutex
	var got []int
	sub, err := Subscribe(bus, "numbers", 10, func(ctx context.Context, msg int) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sub.Topic(), test.ShouldEqual, "numbers")
	test.That(t, bus.NumSubscribers("numbers"), test.ShouldEqual, 1)

	for i := 0; i < 5; i++ {
		test.That(t, bus.Publish("numbers", i), test.ShouldEqual, 1)
	}
	test.That(t, bus.Publish("other", 1), test.ShouldEqual, 0)
	// Wrong type is dropped by the subscriber, not delivered.
	bus.Publish("numbers", "six")

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, got, test.ShouldResemble, []int{0, 1, 2, 3, 4})
	})

	sub.Unsubscribe()
	sub.Unsubscribe()
	<-sub.Done()
	test.That(t, bus.NumSubscribers("numbers"), test.ShouldEqual, 0)
	test.That(t, bus.Publish("numbers", 7), test.ShouldEqual, 0)

	_, err = Subscribe(bus, "", 1, func(ctx context.Context, msg int) {})
	test.That(t, err, test.ShouldEqual, ErrEmptyName)
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sub, err := Subscribe(bus, "slow", 1, func(ctx context.Context, msg int) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	test.That(t, err, test.ShouldBeNil)
	defer sub.Unsubscribe()

	test.That(t, bus.Publish("slow", 1), test.ShouldEqual, 1)
	<-started
	test.That(t, bus.Publish("slow", 2), test.ShouldEqual, 1)
	test.That(t, bus.Publish("slow", 3), test.ShouldEqual, 0)
	test.That(t, sub.Dropped(), test.ShouldEqual, 1)
	close(release)
}

func TestUnsubscribeFromHandler(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	var sub *Subscription
	ready := make(chan struct{})
	var err error
	sub, err = Subscribe(bus, "once", 1, func(ctx context.Context, msg int) {
		<-ready
		sub.Unsubscribe()
	})
	test.That(t, err, test.ShouldBeNil)
	close(ready)
	bus.Publish("once", 1)
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

type echoRequest struct{ Text string }
type echoResponse struct{ Text string }

func TestServices(t *testing.T) {
	bus := NewBus(logging.NewTestLogger(t))
	ctx := context.Background()

	svc, err := Advertise(bus, "echo", func(ctx context.Context, req echoRequest) (echoResponse, error) {
		return echoResponse{Text: req.Text}, nil
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, svc.Name(), test.ShouldEqual, "echo")

	_, err = Advertise(bus, "echo", func(ctx context.Context, req echoRequest) (echoResponse, error) {
		return echoResponse{}, nil
	})
	test.That(t, err, test.ShouldNotBeNil)

	resp, err := Call[echoRequest, echoResponse](ctx, bus, "echo", echoRequest{Text: "hi"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.Text, test.ShouldEqual, "hi")

	_, err = Call[string, echoResponse](ctx, bus, "echo", "hi")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "expected")

	_, err = Call[echoRequest, string](ctx, bus, "echo", echoRequest{})
	test.That(t, err, test.ShouldNotBeNil)

	svc.Unadvertise()
	_, err = Call[echoRequest, echoResponse](ctx, bus, "echo", echoRequest{})
	test.That(t, IsServiceNotFoundError(err), test.ShouldBeTrue)

	_, err = Call[echoRequest, echoResponse](ctx, bus, "", echoRequest{})
	test.That(t, err, test.ShouldEqual, ErrEmptyName)
	_, err = Advertise(bus, "", func(ctx context.Context, req echoRequest) (echoResponse, error) {
		return echoResponse{}, nil
	})
	test.That(t, err, test.ShouldEqual, ErrEmptyName)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Advertise(bus, "echo", func(ctx context.Context, req echoRequest) (echoResponse, error) {
		return echoResponse{}, nil
	})
	test.That(t, err, test.ShouldBeNil)
	_, err = Call[echoRequest, echoResponse](cancelled, bus, "echo", echoRequest{})
	test.That(t, err, test.ShouldEqual, context.Canceled)
}
