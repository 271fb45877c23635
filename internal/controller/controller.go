// Package controller wires the hub client, the master state machine,
// and the hub-visible command fan-out into the running loop (spec
// §4.E): subscribed events update the live observation and refresh the
// outdoor reading; a periodic tick refreshes both sensors and
// re-evaluates as a safety net; every plan is dispatched to every
// enabled entity, independently. The lifecycle
// (goroutine-per-concern, coordinated shutdown via context +
// WaitGroup) is ported from a dashboard agent's Run/Shutdown shape in
// the same idiom.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/attic-systems/hvacd/internal/hub"
	"github.com/attic-systems/hvacd/internal/hvacmodel"
	"github.com/attic-systems/hvacd/internal/master"
)

const (
	defaultTickInterval  = 5 * time.Minute
	defaultRetryDelay    = 60 * time.Second
	outdoorFetchTimeout  = 10 * time.Second
	fallbackOutdoorTempC = 20.0
)

// MetricsRecorder is the subset of the ambient metrics surface the
// controller drives. A nil Recorder on Controller disables recording.
type MetricsRecorder interface {
	ObserveEvaluation(mode hvacmodel.HVACMode)
	ObserveCommandCall(service string, err error)
	ObserveReconnect()
	ObserveDefrostCycle()
	SetMasterState(state string)
}

// Controller runs the evaluate-and-dispatch loop.
type Controller struct {
	cfg     hvacmodel.Config
	hub     *hub.Client
	machine *master.Machine
	log     zerolog.Logger
	metrics MetricsRecorder

	tickInterval time.Duration
	retryDelay   time.Duration
	now          func() time.Time

	mu  sync.Mutex
	obs hvacmodel.Observation

	// evalMu serializes evaluateAndDispatch across the event handler
	// (hub read-loop goroutine) and the tick loop goroutine, so the
	// master machine only ever sees one evaluation in flight at a time
	// (spec §4.E "Concurrency of evaluations").
	evalMu sync.Mutex
}

// New builds a Controller. metrics may be nil.
func New(cfg hvacmodel.Config, hubClient *hub.Client, log zerolog.Logger, metrics MetricsRecorder) *Controller {
	return &Controller{
		cfg:          cfg,
		hub:          hubClient,
		machine:      master.New(),
		log:          log.With().Str("component", "controller").Logger(),
		metrics:      metrics,
		tickInterval: defaultTickInterval,
		retryDelay:   defaultRetryDelay,
		now:          time.Now,
	}
}

// Run starts the hub connection, the event handler, and the periodic
// tick, then triggers one immediate evaluation (spec §4.E "start()").
// It blocks until ctx is cancelled or the hub client gives up on its
// initial connect budget, then waits for every goroutine it started to
// exit. A non-nil error means the initial hub connect was exhausted
// (spec §7 "unrecoverable initial AuthError" / ConnectError) and the
// caller should treat startup as failed.
func (c *Controller) Run(ctx context.Context) error {
	c.hub.OnEvent(c.handleEvent)
	if c.metrics != nil {
		c.hub.SetReconnectHook(c.metrics.ObserveReconnect)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)

	var hubErr error
	go func() {
		defer wg.Done()
		defer cancel()
		hubErr = c.hub.Run(runCtx)
	}()

	go func() {
		defer wg.Done()
		c.tickLoop(runCtx)
	}()

	go func() {
		defer wg.Done()
		c.refreshBoth(runCtx)
		c.evaluateAndDispatch(runCtx)
	}()

	wg.Wait()
	return hubErr
}

// handleEvent updates the live observation from a state_changed event,
// refreshes the outdoor reading over REST, and triggers an immediate
// evaluation (spec §4.E "Sensor event path"). Events for any other
// entity are ignored.
func (c *Controller) handleEvent(data hvacmodel.StateChangedData) {
	if data.EntityID != c.cfg.TempSensor || data.NewState == nil {
		return
	}

	v, err := data.NewState.NumericState()
	if err != nil {
		c.log.Warn().Err(err).Str("entity_id", data.EntityID).Msg("non-numeric indoor reading, skipping")
		return
	}

	now := c.now()
	c.mu.Lock()
	c.obs.IndoorTempC = &v
	c.obs.Hour = now.Hour()
	c.obs.IsWeekday = isWeekday(now)
	c.mu.Unlock()

	c.refreshOutdoor(context.Background())
	c.evaluateAndDispatch(context.Background())
}

// tickLoop periodically refreshes both sensors over REST and
// re-evaluates, even absent a fresh indoor event — this is what notices
// a completed defrost cycle or an active-hours boundary crossing.
func (c *Controller) tickLoop(ctx context.Context) {
	delay := c.tickInterval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		c.refreshBoth(ctx)
		ok := c.evaluateAndDispatch(ctx)

		delay = c.tickInterval
		if !ok {
			delay = c.retryDelay
		}
		timer.Reset(delay)
	}
}

// refreshOutdoor fetches the outdoor sensor over REST. A fetch failure
// falls back to a fixed default rather than blocking evaluation — the
// hub being briefly unreachable for the outdoor sensor must not stall
// the indoor control loop (spec §4.E, §9 Open Question decisions #2).
func (c *Controller) refreshOutdoor(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, outdoorFetchTimeout)
	defer cancel()

	now := c.now()
	v := c.fetchOutdoorOrFallback(fetchCtx)

	c.mu.Lock()
	c.obs.OutdoorTempC = &v
	c.obs.Hour = now.Hour()
	c.obs.IsWeekday = isWeekday(now)
	c.mu.Unlock()
}

// refreshBoth fetches both sensors over REST (spec §4.E "Periodic tick
// path" and the startup immediate evaluation). The outdoor reading
// falls back to a fixed default on failure; the indoor reading has no
// safe fallback, so a failure there leaves the observation's prior
// indoor reading (possibly still unset) in place and is logged.
func (c *Controller) refreshBoth(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, outdoorFetchTimeout)
	defer cancel()

	now := c.now()
	outdoor := c.fetchOutdoorOrFallback(fetchCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.obs.OutdoorTempC = &outdoor
	c.obs.Hour = now.Hour()
	c.obs.IsWeekday = isWeekday(now)

	state, err := c.hub.GetState(fetchCtx, c.cfg.TempSensor)
	if err != nil {
		c.log.Warn().Err(err).Str("entity_id", c.cfg.TempSensor).Msg("indoor sensor fetch failed, keeping prior reading")
		return
	}
	indoor, err := state.NumericState()
	if err != nil {
		c.log.Warn().Err(err).Str("entity_id", c.cfg.TempSensor).Msg("non-numeric indoor reading, keeping prior reading")
		return
	}
	c.obs.IndoorTempC = &indoor
}

// fetchOutdoorOrFallback fetches the outdoor sensor over REST,
// substituting a neutral default on any failure.
func (c *Controller) fetchOutdoorOrFallback(ctx context.Context) float64 {
	state, err := c.hub.GetState(ctx, c.cfg.OutdoorSensor)
	if err != nil {
		c.log.Warn().Err(err).Str("entity_id", c.cfg.OutdoorSensor).Msg("outdoor sensor fetch failed, using fallback")
		return fallbackOutdoorTempC
	}
	v, err := state.NumericState()
	if err != nil {
		c.log.Warn().Err(err).Str("entity_id", c.cfg.OutdoorSensor).Msg("non-numeric outdoor reading, using fallback")
		return fallbackOutdoorTempC
	}
	return v
}

// evaluateAndDispatch runs one master-machine evaluation against the
// current observation and dispatches the resulting plan to every
// enabled entity. It returns false when the evaluation could not run
// at all (an incomplete observation), signalling the tick loop to
// retry sooner than its normal interval.
func (c *Controller) evaluateAndDispatch(ctx context.Context) bool {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	now := c.now()

	c.mu.Lock()
	obs := c.obs
	c.mu.Unlock()

	prevState := c.machine.State()
	plan := c.machine.Evaluate(c.cfg, &obs, now)

	c.mu.Lock()
	c.obs.DefrostLast = obs.DefrostLast
	c.obs.DefrostStarted = obs.DefrostStarted
	c.mu.Unlock()

	if plan == nil {
		return false
	}

	if c.metrics != nil {
		c.metrics.ObserveEvaluation(plan.Mode)
		c.metrics.SetMasterState(string(c.machine.State()))
		if c.machine.State() == master.Defrost && prevState != master.Defrost {
			c.metrics.ObserveDefrostCycle()
		}
	}

	c.dispatch(ctx, *plan)
	return true
}

// dispatch fans the plan out to every enabled entity, in declaration
// order. A failure on one entity is logged and does not prevent the
// remaining entities from being commanded (spec §4.E "Fan-out").
func (c *Controller) dispatch(ctx context.Context, plan hvacmodel.CommandPlan) {
	for _, e := range c.cfg.EnabledEntities() {
		c.call(e.ID, "set_hvac_mode", map[string]any{
			"entity_id": e.ID,
			"hvac_mode": string(plan.Mode),
		})

		if plan.Mode == hvacmodel.ModeOff {
			continue
		}

		c.call(e.ID, "set_temperature", map[string]any{
			"entity_id":   e.ID,
			"temperature": plan.SetpointC,
		})
		if plan.Preset != "" {
			c.call(e.ID, "set_preset_mode", map[string]any{
				"entity_id":   e.ID,
				"preset_mode": plan.Preset,
			})
		}
	}
}

func (c *Controller) call(entityID, service string, data map[string]any) {
	err := c.hub.CallService("climate", service, data)
	if c.metrics != nil {
		c.metrics.ObserveCommandCall(service, err)
	}
	if err != nil {
		c.log.Error().Err(err).Str("entity_id", entityID).Str("service", service).Msg("command call failed")
	}
}

// MasterState returns the master machine's current state, for the
// ambient status endpoint.
func (c *Controller) MasterState() string {
	return string(c.machine.State())
}

// HubConnected reports whether the hub WebSocket connection is up, for
// the ambient status endpoint.
func (c *Controller) HubConnected() bool {
	return c.hub.IsConnected()
}

func isWeekday(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}
