package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"kassza/internal/domain"
	"kassza/internal/store"
)

const ReportsCollectionName = "closing_reports"

// reportDocument stores money as strings; bson has no native decimal codec
// for shopspring values.
type reportDocument struct {
	ShiftID         string    `bson:"shift_id"`
	Date            string    `bson:"date"`
	ClosedAt        time.Time `bson:"closed_at"`
	ClosedBy        string    `bson:"closed_by"`
	ExpectedBalance string    `bson:"expected_balance"`
	ActualBalance   string    `bson:"actual_balance"`
	Discrepancy     string    `bson:"discrepancy"`
	Text            string    `bson:"text"`
}

type Mongo struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *slog.Logger
}

func NewMongo(ctx context.Context, logger *slog.Logger, uri string, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(database).Collection(ReportsCollectionName)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "shift_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create closing report index: %w", err)
	}

	return &Mongo{client: client, collection: collection, logger: logger}, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	return nil
}

func (m *Mongo) Save(ctx context.Context, report domain.ClosingReport) error {
	if report.ShiftID == "" {
		return fmt.Errorf("%w: shift id required", store.ErrInvalidTransaction)
	}
	doc := reportDocument{
		ShiftID:         report.ShiftID,
		Date:            report.Date,
		ClosedAt:        report.ClosedAt,
		ClosedBy:        report.ClosedBy,
		ExpectedBalance: report.ExpectedBalance.String(),
		ActualBalance:   report.ActualBalance.String(),
		Discrepancy:     report.Discrepancy.String(),
		Text:            report.Text,
	}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"shift_id": report.ShiftID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		m.logger.Error("failed to archive closing report", "shift_id", report.ShiftID, "error", err)
		return fmt.Errorf("failed to archive closing report: %w", err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, shiftID string) (domain.ClosingReport, error) {
	var doc reportDocument
	err := m.collection.FindOne(ctx, bson.M{"shift_id": shiftID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ClosingReport{}, fmt.Errorf("closing report %s: %w", shiftID, store.ErrNotFound)
		}
		return domain.ClosingReport{}, fmt.Errorf("failed to get closing report: %w", err)
	}
	return doc.toDomain()
}

func (m *Mongo) List(ctx context.Context, limit int) ([]domain.ClosingReport, error) {
	opts := options.Find().SetSort(bson.D{{Key: "closed_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list closing reports: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []reportDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode closing reports: %w", err)
	}
	out := make([]domain.ClosingReport, 0, len(docs))
	for _, doc := range docs {
		report, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

func (d reportDocument) toDomain() (domain.ClosingReport, error) {
	expected, err := decimal.NewFromString(d.ExpectedBalance)
	if err != nil {
		return domain.ClosingReport{}, fmt.Errorf("closing report %s expected balance: %w", d.ShiftID, err)
	}
	actual, err := decimal.NewFromString(d.ActualBalance)
	if err != nil {
		return domain.ClosingReport{}, fmt.Errorf("closing report %s actual balance: %w", d.ShiftID, err)
	}
	discrepancy, err := decimal.NewFromString(d.Discrepancy)
	if err != nil {
		return domain.ClosingReport{}, fmt.Errorf("closing report %s discrepancy: %w", d.ShiftID, err)
	}
	return domain.ClosingReport{
		ShiftID:         d.ShiftID,
		Date:            d.Date,
		ClosedAt:        d.ClosedAt,
		ClosedBy:        d.ClosedBy,
		ExpectedBalance: expected,
		ActualBalance:   actual,
		Discrepancy:     discrepancy,
		Text:            d.Text,
	}, nil
}
