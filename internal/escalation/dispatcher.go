package escalation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"pillpal/internal/logging"
	"pillpal/internal/models"
)

const (
	defaultConcurrency = 4
	sendTimeout        = 20 * time.Second
)

// MessageChannel delivers a text to an external address and returns the
// provider's message id
type MessageChannel interface {
	Send(ctx context.Context, address, body string) (string, error)
}

// CaretakerDirectory lists the caretakers to consider for escalation
type CaretakerDirectory interface {
	Caretakers(ctx context.Context) ([]models.Caretaker, error)
}

// OutcomeLog persists per-recipient escalation results
type OutcomeLog interface {
	AppendOutcome(ctx context.Context, outcome *models.EscalationOutcome) error
}

// PreferenceSource returns the preferences currently in effect
type PreferenceSource interface {
	Get() models.Preferences
}

// Recorder observes escalation attempts
type Recorder interface {
	EscalationSent(resolution models.ResolutionKind, success bool)
}

// Config holds the collaborators of a Dispatcher. Recorder is optional.
type Config struct {
	Channel     MessageChannel
	Directory   CaretakerDirectory
	Log         OutcomeLog
	Prefs       PreferenceSource
	Recorder    Recorder
	Clock       clockwork.Clock
	Location    *time.Location
	Concurrency int
}

// Dispatcher turns dose outcomes into caretaker messages. Each outcome is
// handled on its own goroutine and each recipient is sent to independently,
// so one slow or failing send never holds up another.
type Dispatcher struct {
	channel     MessageChannel
	directory   CaretakerDirectory
	log         OutcomeLog
	prefs       PreferenceSource
	recorder    Recorder
	clock       clockwork.Clock
	location    *time.Location
	concurrency int

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	return &Dispatcher{
		channel:     cfg.Channel,
		directory:   cfg.Directory,
		log:         cfg.Log,
		prefs:       cfg.Prefs,
		recorder:    cfg.Recorder,
		clock:       cfg.Clock,
		location:    cfg.Location,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes outcomes until ctx is done or the channel is closed, then
// waits for in-flight escalations
func (d *Dispatcher) Run(ctx context.Context, outcomes <-chan models.DoseOutcome) {
	log.Println("📨 [ESCALATION] Dispatcher started")
	defer func() {
		d.wg.Wait()
		log.Println("✅ [ESCALATION] Dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case outcome, ok := <-outcomes:
			if !ok {
				return
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.handle(context.WithoutCancel(ctx), outcome)
			}()
		}
	}
}

// Wait blocks until in-flight escalations finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, outcome models.DoseOutcome) {
	if !d.prefs.Get().SMSEnabled {
		log.Printf("⏭️  [ESCALATION] SMS disabled, not escalating %s (%s)", outcome.Instance.ID, outcome.Resolution)
		return
	}

	caretakers, err := d.directory.Caretakers(ctx)
	if err != nil {
		log.Printf("❌ [ESCALATION] Failed to load caretakers for %s: %v", outcome.Instance.ID, err)
		return
	}

	d.Notify(ctx, outcome.Instance, outcome.Resolution, caretakers)
}

// Notify sends one message per caretaker subscribed to the resolution's
// category and records each result. Partial failure is a normal outcome.
func (d *Dispatcher) Notify(ctx context.Context, inst models.DoseInstance, kind models.ResolutionKind, caretakers []models.Caretaker) []models.EscalationOutcome {
	category := kind.Category()

	var recipients []models.Caretaker
	for _, c := range caretakers {
		if c.Address != "" && c.Wants(category) {
			recipients = append(recipients, c)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	body := ComposeMessage(d.prefs.Get().PatientName, inst, kind, d.location)
	results := make([]models.EscalationOutcome, len(recipients))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, c := range recipients {
		g.Go(func() error {
			results[i] = d.send(ctx, inst, kind, c, body)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	log.Printf("📨 [ESCALATION] %s (%s): %d/%d caretakers notified", inst.ID, kind, succeeded, len(results))
	return results
}

func (d *Dispatcher) send(ctx context.Context, inst models.DoseInstance, kind models.ResolutionKind, c models.Caretaker, body string) models.EscalationOutcome {
	logger := logging.WithCaretaker(logging.WithDose(inst.ID.String(), inst.ID.MedicationID), c.ID, string(kind))

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	outcome := models.EscalationOutcome{
		ID:          uuid.New().String(),
		InstanceID:  inst.ID,
		InstanceKey: inst.ID.String(),
		CaretakerID: c.ID,
		Address:     c.Address,
		Body:        body,
		Resolution:  kind,
	}

	messageID, err := d.channel.Send(sendCtx, c.Address, body)
	outcome.SentAt = d.clock.Now()
	if err != nil {
		outcome.Error = err.Error()
		logger.Warn("caretaker message failed", "error", err)
	} else {
		outcome.Success = true
		outcome.ProviderMessageID = messageID
		logger.Info("caretaker message sent", "provider_message_id", messageID)
	}

	if d.recorder != nil {
		d.recorder.EscalationSent(kind, outcome.Success)
	}
	if err := d.log.AppendOutcome(ctx, &outcome); err != nil {
		log.Printf("❌ [ESCALATION] Failed to record outcome for %s to %s: %v", inst.ID, c.ID, err)
	}
	return outcome
}
