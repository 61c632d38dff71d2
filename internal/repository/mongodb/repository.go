package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/broiler/internal/domain/models"
)

const runReportsCollection = "run_reports"

// RunReportRepository archives batch run reports.
type RunReportRepository struct {
	client   *mongo.Client
	dbName   string
	collName string
}

// NewRunReportRepository connects to MongoDB and verifies the connection.
func NewRunReportRepository(ctx context.Context, uri string, dbName string) (*RunReportRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &RunReportRepository{
		client:   client,
		dbName:   dbName,
		collName: runReportsCollection,
	}, nil
}

func (r *RunReportRepository) collection() *mongo.Collection {
	return r.client.Database(r.dbName).Collection(r.collName)
}

// SaveRunReport inserts one report.
func (r *RunReportRepository) SaveRunReport(ctx context.Context, report *models.RunReport) error {
	if _, err := r.collection().InsertOne(ctx, report); err != nil {
		return fmt.Errorf("failed to insert %s run report: %w", report.Kind, err)
	}
	return nil
}

// RecentRunReports returns the latest reports of a kind, newest first.
func (r *RunReportRepository) RecentRunReports(ctx context.Context, kind models.RunKind, limit int64) ([]models.RunReport, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}}).SetLimit(limit)
	cursor, err := r.collection().Find(ctx, bson.M{"kind": kind}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s run reports: %w", kind, err)
	}
	defer cursor.Close(ctx)

	var reports []models.RunReport
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode %s run reports: %w", kind, err)
	}
	return reports, nil
}

// Close disconnects the client.
func (r *RunReportRepository) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}
