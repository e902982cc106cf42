package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/conecoach/backend/models"
	"github.com/conecoach/backend/scoring"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/resend/resend-go/v2"
)

const (
	reportQueueSize   = 16
	reportSendTimeout = 30 * time.Second
)

// ReportSink delivers a finished report somewhere outside the process
type ReportSink interface {
	Name() string
	Send(ctx context.Context, report scoring.Report) error
}

// ReportDispatcher hands reports to its sinks on a background worker so that
// scoring never waits on delivery. Delivery failures are logged only.
type ReportDispatcher struct {
	sinks []ReportSink
	queue chan scoring.Report
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewReportDispatcher(sinks ...ReportSink) *ReportDispatcher {
	d := &ReportDispatcher{
		sinks: sinks,
		queue: make(chan scoring.Report, reportQueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *ReportDispatcher) Dispatch(report scoring.Report) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed || len(d.sinks) == 0 {
		return
	}

	select {
	case d.queue <- report:
	default:
		slog.Warn("Report queue full, dropping report", "simulation_id", report.SimulationID)
	}
}

// Close stops accepting reports and waits for queued ones to be delivered
func (d *ReportDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *ReportDispatcher) run() {
	defer close(d.done)

	for report := range d.queue {
		for _, sink := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), reportSendTimeout)
			err := sink.Send(ctx, report)
			cancel()

			reportDeliveries.WithLabelValues(sink.Name(), outcomeLabel(err)).Inc()
			if err != nil {
				slog.Error("Failed to deliver report", "sink", sink.Name(), "simulation_id", report.SimulationID, "error", err)
				continue
			}
			slog.Info("Report delivered", "sink", sink.Name(), "simulation_id", report.SimulationID)
		}
	}
}

type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailSink mails the report to a fixed recipient
type EmailSink struct {
	emails    emailSender
	from      string
	recipient string
}

func NewEmailSink(apiKey, from, recipient string) *EmailSink {
	client := resend.NewClient(apiKey)
	return &EmailSink{emails: client.Emails, from: from, recipient: recipient}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Send(ctx context.Context, report scoring.Report) error {
	body, err := renderReportHTML(report, time.Now())
	if err != nil {
		return err
	}

	sent, err := s.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{s.recipient},
		Subject: reportSubject(report),
		Html:    body,
	})
	if err != nil {
		return fmt.Errorf("failed to send report email: %w", err)
	}

	slog.Debug("Report email accepted", "email_id", sent.Id)
	return nil
}

func reportSubject(report scoring.Report) string {
	return fmt.Sprintf("Simulation Report: %s (%d%%)", report.UserName, report.Score)
}

type reportLine struct {
	Speaker string
	Content string
}

type reportView struct {
	UserName        string
	Date            string
	Score           int
	Strengths       []string
	Improvements    []string
	IncorrectClaims []string
	Transcript      []reportLine
}

var reportTemplate = template.Must(template.New("report").Parse(`
<h1>Universal Cone Challenge Simulation Report</h1>
<p><strong>User:</strong> {{.UserName}}</p>
<p><strong>Date:</strong> {{.Date}}</p>
<hr />
<h3>Total Score: {{.Score}}/100</h3>
<h4>Strengths:</h4>
<ul>{{range .Strengths}}<li>{{.}}</li>{{end}}</ul>
<h4>Improvements:</h4>
<ul>{{range .Improvements}}<li>{{.}}</li>{{end}}</ul>
{{if .IncorrectClaims}}<h4>Accuracy Alerts:</h4>
<ul>{{range .IncorrectClaims}}<li>{{.}}</li>{{end}}</ul>{{end}}
<hr />
<h3>Full Transcript:</h3>
{{range .Transcript}}<p><strong>{{.Speaker}}:</strong> {{.Content}}</p>
{{end}}`))

func renderReportHTML(report scoring.Report, now time.Time) (string, error) {
	view := reportView{
		UserName:        report.UserName,
		Date:            now.Format("Jan 2, 2006 3:04 PM"),
		Score:           report.Score,
		Strengths:       report.Feedback.Strengths,
		Improvements:    report.Feedback.Improvements,
		IncorrectClaims: report.Feedback.IncorrectClaims,
	}
	for _, t := range report.Transcript {
		view.Transcript = append(view.Transcript, reportLine{Speaker: speakerLabel(t.Role), Content: t.Content})
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return buf.String(), nil
}

func speakerLabel(role string) string {
	if role == models.RoleUser {
		return "Rep"
	}
	return PersonaName
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ArchiveSink stores every report as a JSON object
type ArchiveSink struct {
	objects objectPutter
	bucket  string
}

// NewArchiveSink connects to object storage and creates the bucket if needed
func NewArchiveSink(ctx context.Context, cfg MinioConfig) (*ArchiveSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
		slog.Info("Created report bucket", "bucket", cfg.Bucket)
	}

	return &ArchiveSink{objects: client, bucket: cfg.Bucket}, nil
}

func (s *ArchiveSink) Name() string { return "archive" }

type archivedReport struct {
	ID           string              `json:"id"`
	SimulationID uint                `json:"simulationId"`
	UserName     string              `json:"userName"`
	Score        int                 `json:"score"`
	Feedback     models.Feedback     `json:"feedback"`
	Transcript   []models.Transcript `json:"transcript"`
	CreatedAt    time.Time           `json:"createdAt"`
}

func (s *ArchiveSink) Send(ctx context.Context, report scoring.Report) error {
	data, err := json.Marshal(archivedReport{
		ID:           uuid.New().String(),
		SimulationID: report.SimulationID,
		UserName:     report.UserName,
		Score:        report.Score,
		Feedback:     report.Feedback,
		Transcript:   report.Transcript,
		CreatedAt:    report.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	name := reportObjectName(report)
	_, err = s.objects.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload report %s: %w", name, err)
	}
	return nil
}

// reportObjectName keeps every scoring of a simulation, newest sorting last
func reportObjectName(report scoring.Report) string {
	return fmt.Sprintf("simulations/%d/%s.json", report.SimulationID, time.Now().UTC().Format("20060102T150405.000Z"))
}
