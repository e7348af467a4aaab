package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kidney-exchange-mcp-server/internal/database"
	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "starting PostgreSQL container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	config := database.Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    testPassword,
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, config, logger)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, database.MigrateUp(ctx, config.URL(), "../../migrations", logger))
	return db
}

func newTestRepository(t *testing.T) *PatientRepository {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewPatientRepository(setupTestDB(t).Pool, logger)
}

func samplePatients() *domain.RawPatients {
	inactive := false
	return &domain.RawPatients{
		Recipients: []domain.RawRecipient{
			{
				ID: 20, MedicalID: "R2", BloodGroup: "B", Country: "CZE",
				HLATyping: []string{"A1", "A2", "B7", "B8", "DR1", "DR4"},
			},
			{
				ID: 10, MedicalID: "R1", BloodGroup: "A", Country: "CZE",
				HLATyping: []string{"DR4", "A2", "A1", "B8", "B7", "DR1"},
				Antibodies: []hla.RawAntibody{
					{Raw: "A1", MFI: 5000, Cutoff: 2000},
					{Raw: "B7", MFI: 100, Cutoff: 2000},
				},
				AcceptableBloodGroups: []string{"A", "O"},
			},
		},
		Donors: []domain.RawDonor{
			{
				ID: 2, MedicalID: "D2", BloodGroup: "A", Country: "CZE",
				HLATyping:          []string{"A1", "A2", "B7", "B8", "DR1", "DR4"},
				RelatedRecipientID: 20,
			},
			{
				ID: 1, MedicalID: "D1", BloodGroup: "B", Country: "AUT",
				HLATyping:          []string{"A3", "A2", "B7", "B8", "DR1", "DR4"},
				RelatedRecipientID: 10,
			},
			{
				ID: 3, MedicalID: "D3", BloodGroup: "O", Country: "AUT",
				HLATyping: []string{"A1"},
				Type:      domain.DonorTypeNonDirected,
				Active:    &inactive,
			},
		},
	}
}

func TestPatientRepository_SaveAndLoad(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	eventID, err := repo.CreateTxmEvent(ctx, "round-2026-10")
	require.NoError(t, err)
	require.NoError(t, repo.SavePatients(ctx, eventID, samplePatients()))

	loaded, err := repo.LoadPatients(ctx, eventID)
	require.NoError(t, err)

	require.Len(t, loaded.Recipients, 2)
	assert.Equal(t, int64(10), loaded.Recipients[0].ID)
	assert.Equal(t, []string{"DR4", "A2", "A1", "B8", "B7", "DR1"}, loaded.Recipients[0].HLATyping)
	assert.Equal(t, []string{"A", "O"}, loaded.Recipients[0].AcceptableBloodGroups)
	assert.Equal(t, []hla.RawAntibody{
		{Raw: "A1", MFI: 5000, Cutoff: 2000},
		{Raw: "B7", MFI: 100, Cutoff: 2000},
	}, loaded.Recipients[0].Antibodies)
	assert.Nil(t, loaded.Recipients[1].AcceptableBloodGroups)
	assert.Empty(t, loaded.Recipients[1].Antibodies)

	require.Len(t, loaded.Donors, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{loaded.Donors[0].ID, loaded.Donors[1].ID, loaded.Donors[2].ID})
	assert.Equal(t, int64(10), loaded.Donors[0].RelatedRecipientID)
	assert.Equal(t, domain.DonorTypeDonor, loaded.Donors[0].Type)
	require.NotNil(t, loaded.Donors[0].Active)
	assert.True(t, *loaded.Donors[0].Active)

	ndd := loaded.Donors[2]
	assert.Zero(t, ndd.RelatedRecipientID)
	assert.Equal(t, domain.DonorTypeNonDirected, ndd.Type)
	require.NotNil(t, ndd.Active)
	assert.False(t, *ndd.Active)

	events, err := repo.ListTxmEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []TxmEvent{{ID: eventID, Name: "round-2026-10"}}, events)
}

func TestPatientRepository_LoadMissingEvent(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.LoadPatients(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPatientRepository_SaveRollsBack(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	eventID, err := repo.CreateTxmEvent(ctx, "broken")
	require.NoError(t, err)

	raw := samplePatients()
	raw.Donors[0].RelatedRecipientID = 999
	require.Error(t, repo.SavePatients(ctx, eventID, raw))

	loaded, err := repo.LoadPatients(ctx, eventID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Donors)
	assert.Empty(t, loaded.Recipients)
}

func TestPatientRepository_ParsingIssues(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	eventID, err := repo.CreateTxmEvent(ctx, "issues")
	require.NoError(t, err)

	first := []domain.PatientIssue{
		{MedicalID: "R1", ParsingIssue: hla.NewParsingIssue("XYZ", hla.UnparsableHLACode)},
		{MedicalID: "D2", ParsingIssue: hla.NewParsingIssue("A*01:01", hla.HighResWithoutSplit)},
	}
	require.NoError(t, repo.SaveParsingIssues(ctx, eventID, first))

	issues, err := repo.ListParsingIssues(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, first, issues)

	// a later parse replaces the stored issues
	second := first[:1]
	require.NoError(t, repo.SaveParsingIssues(ctx, eventID, second))
	issues, err = repo.ListParsingIssues(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, second, issues)

	require.NoError(t, repo.SaveParsingIssues(ctx, eventID, nil))
	issues, err = repo.ListParsingIssues(ctx, eventID)
	require.NoError(t, err)
	assert.Empty(t, issues)
}
