package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pillpal/internal/database"
	"pillpal/internal/models"
)

// MongoDoseLog stores dose transitions and escalation outcomes in MongoDB.
// The partial unique index on terminalKey enforces one resolution per instance.
type MongoDoseLog struct {
	events   *mongo.Collection
	outcomes *mongo.Collection
}

// NewMongoDoseLog creates a dose log over an initialized MongoDB
func NewMongoDoseLog(db *database.MongoDB) *MongoDoseLog {
	return &MongoDoseLog{
		events:   db.Collection(database.CollectionDoseEvents),
		outcomes: db.Collection(database.CollectionEscalationOutcomes),
	}
}

type doseEventDocument struct {
	models.DoseEvent `bson:",inline"`
	TerminalKey      string `bson:"terminalKey,omitempty"`
}

// AppendEvent writes one transition
func (l *MongoDoseLog) AppendEvent(ctx context.Context, event *models.DoseEvent) error {
	doc := doseEventDocument{DoseEvent: *event}
	doc.InstanceKey = event.InstanceID.String()
	if event.IsTerminal() {
		doc.TerminalKey = doc.InstanceKey
	}

	if _, err := l.events.InsertOne(ctx, doc); err != nil {
		if event.IsTerminal() && mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", models.ErrAlreadyRecorded, doc.InstanceKey)
		}
		return fmt.Errorf("failed to append dose event for %s: %w", doc.InstanceKey, err)
	}
	return nil
}

// LoadEvents returns every recorded transition in recording order
func (l *MongoDoseLog) LoadEvents(ctx context.Context) ([]*models.DoseEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recordedAt", Value: 1}, {Key: "_id", Value: 1}})
	return l.find(ctx, bson.M{}, opts)
}

// TerminalEvents returns the resolutions of instances scheduled in [from, to)
func (l *MongoDoseLog) TerminalEvents(ctx context.Context, from, to time.Time) ([]*models.DoseEvent, error) {
	filter := bson.M{
		"terminalKey": bson.M{"$exists": true},
		"scheduledAt": bson.M{"$gte": from, "$lt": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "scheduledAt", Value: 1}, {Key: "medicationId", Value: 1}})
	return l.find(ctx, filter, opts)
}

// History returns every transition of one instance
func (l *MongoDoseLog) History(ctx context.Context, id models.DoseInstanceID) ([]*models.DoseEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "recordedAt", Value: 1}, {Key: "_id", Value: 1}})
	return l.find(ctx, bson.M{"instanceKey": id.String()}, opts)
}

func (l *MongoDoseLog) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]*models.DoseEvent, error) {
	cursor, err := l.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query dose events: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []doseEventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode dose events: %w", err)
	}

	events := make([]*models.DoseEvent, 0, len(docs))
	for i := range docs {
		event := docs[i].DoseEvent
		id, err := models.ParseDoseInstanceID(event.InstanceKey)
		if err != nil {
			return nil, fmt.Errorf("dose event %s: %w", event.ID, err)
		}
		event.InstanceID = id
		events = append(events, &event)
	}
	return events, nil
}

// AppendOutcome records one caretaker escalation result
func (l *MongoDoseLog) AppendOutcome(ctx context.Context, outcome *models.EscalationOutcome) error {
	doc := *outcome
	doc.InstanceKey = outcome.InstanceID.String()

	if _, err := l.outcomes.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to append escalation outcome for %s: %w", doc.InstanceKey, err)
	}
	return nil
}

// Outcomes returns the escalation results recorded for one instance
func (l *MongoDoseLog) Outcomes(ctx context.Context, id models.DoseInstanceID) ([]models.EscalationOutcome, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sentAt", Value: 1}})
	cursor, err := l.outcomes.Find(ctx, bson.M{"instanceKey": id.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation outcomes: %w", err)
	}
	defer cursor.Close(ctx)

	var outcomes []models.EscalationOutcome
	if err := cursor.All(ctx, &outcomes); err != nil {
		return nil, fmt.Errorf("failed to decode escalation outcomes: %w", err)
	}
	for i := range outcomes {
		outcomes[i].InstanceID = id
	}
	return outcomes, nil
}
