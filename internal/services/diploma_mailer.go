package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/diplomaflow/internal/assets"
	"github.com/Lllllllleong/diplomaflow/internal/captcha"
	"github.com/Lllllllleong/diplomaflow/internal/config"
	"github.com/Lllllllleong/diplomaflow/internal/diploma"
	"github.com/Lllllllleong/diplomaflow/internal/email"
	"github.com/Lllllllleong/diplomaflow/internal/models"
)

type DiplomaMailerConfig struct {
	From               string
	Subject            string
	ClientIPHeader     string
	ExposeErrorDetails bool
}

// DocumentGenerator renders the filled and flattened diploma PDF.
type DocumentGenerator interface {
	Generate(ctx context.Context, fields models.DiplomaFields) ([]byte, error)
}

// DiplomaMailerFunction verifies a request, renders the diploma and emails
// it to the requester.
type DiplomaMailerFunction struct {
	verifier  captcha.Verifier
	generator DocumentGenerator
	mailer    email.Sender
	config    DiplomaMailerConfig
	now       func() time.Time
	closers   []io.Closer
}

// New assembles a DiplomaMailerFunction from already built collaborators.
func New(verifier captcha.Verifier, generator DocumentGenerator, mailer email.Sender, cfg DiplomaMailerConfig) *DiplomaMailerFunction {
	return &DiplomaMailerFunction{
		verifier:  verifier,
		generator: generator,
		mailer:    mailer,
		config:    cfg,
		now:       time.Now,
	}
}

// NewDiplomaMailer loads the configuration from the environment and builds
// every client the function needs.
func NewDiplomaMailer(ctx context.Context) (*DiplomaMailerFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewDiplomaMailerFromConfig(ctx, cfg)
}

func NewDiplomaMailerFromConfig(ctx context.Context, cfg *config.Config) (*DiplomaMailerFunction, error) {
	provider, closers, err := newAssetProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	filler, err := diploma.NewPDFCPUFiller(cfg.FontDir, cfg.DefaultFontSize)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	layout := diploma.Layout{
		GlyphWidth: cfg.GlyphWidth,
		Budgets: map[diploma.Field]float64{
			diploma.FieldName:   cfg.NameWidthBudget,
			diploma.FieldMajor:  cfg.MajorWidthBudget,
			diploma.FieldDegree: cfg.DegreeWidthBudget,
		},
	}

	f := New(
		captcha.NewTurnstileVerifier(cfg.CaptchaSecret, cfg.CaptchaVerifyURL, cfg.CaptchaTimeout),
		diploma.NewGenerator(provider, filler, layout),
		email.NewResendClient(cfg.ResendAPIKey, cfg.ResendAPIURL, cfg.EmailTimeout),
		DiplomaMailerConfig{
			From:               cfg.EmailFrom,
			Subject:            cfg.EmailSubject,
			ClientIPHeader:     cfg.ClientIPHeader,
			ExposeErrorDetails: cfg.ExposeErrorDetails,
		},
	)
	f.closers = closers
	slog.Info("Diploma mailer initialized.", "assetCache", cfg.AssetCache, "exposeErrorDetails", cfg.ExposeErrorDetails)
	return f, nil
}

// newAssetProvider routes each asset location to its fetcher and wraps the
// result in the configured cache. A storage client is only created when a
// gs:// location is configured.
func newAssetProvider(ctx context.Context, cfg *config.Config) (assets.Provider, []io.Closer, error) {
	locations := map[assets.ID]string{
		assets.Template:  cfg.TemplateURL,
		assets.LatinFont: cfg.LatinFontURL,
		assets.CJKFont:   cfg.CJKFontURL,
	}
	httpFetcher := assets.NewHTTPFetcher(cfg.AssetTimeout)
	lp := assets.NewLocationProvider(locations).
		Register("https", httpFetcher).
		Register("http", httpFetcher).
		Register("file", assets.FileFetcher{})

	var closers []io.Closer
	for _, loc := range locations {
		if !strings.HasPrefix(loc, "gs://") {
			continue
		}
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		closers = append(closers, storageClient)
		lp.Register("gs", assets.NewGCSFetcher(storageClient, cfg.AssetTimeout))
		break
	}

	switch cfg.AssetCache {
	case config.CacheMemory:
		return assets.NewCachingProvider(lp, assets.NewMemoryCache(cfg.AssetCacheTTL)), closers, nil
	case config.CacheRedis:
		cache, err := assets.NewRedisCache(cfg.RedisURL, cfg.AssetCacheTTL)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		closers = append(closers, cache)
		return assets.NewCachingProvider(lp, cache), closers, nil
	default:
		return lp, closers, nil
	}
}

// Close releases the storage and cache connections.
func (f *DiplomaMailerFunction) Close() error {
	return closeAll(f.closers)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Process runs the checks and side effects of one diploma request, in order.
// Every returned error is a *RequestError.
func (f *DiplomaMailerFunction) Process(ctx context.Context, req *models.DiplomaRequest, clientIP string) (*email.SendResult, error) {
	if req.Token == "" {
		return nil, validationError(msgMissingToken)
	}
	if !f.verifier.Verify(ctx, req.Token, clientIP) {
		return nil, &RequestError{Kind: KindAuthorization, Message: msgCaptchaFailed}
	}
	if req.MissingFields() {
		return nil, validationError(msgMissingFields)
	}

	logCtx := slog.With("emailDomain", emailDomain(req.Email))

	pdf, err := f.generator.Generate(ctx, req.Fields())
	if err != nil {
		return nil, &RequestError{Kind: KindUpstream, Message: msgGenerate, Err: err}
	}
	logCtx.Info("Diploma generated.", "bytes", len(pdf))

	msg, err := f.composeEmail(req, pdf)
	if err != nil {
		return nil, &RequestError{Kind: KindInternal, Message: msgInternal, Err: err}
	}

	res, err := f.mailer.Send(ctx, msg)
	if err != nil {
		reason := err.Error()
		var perr *email.ProviderError
		if errors.As(err, &perr) {
			reason = perr.Message
		}
		return nil, &RequestError{
			Kind:    KindUpstream,
			Message: msgSendEmail,
			Detail:  msgSendEmail + ": " + reason,
			Err:     err,
		}
	}
	logCtx.Info("Diploma emailed.", "emailId", res.ID)
	return res, nil
}

var diplomaEmailBody = template.Must(template.New("diploma-email").Parse(`
<p>
  Dear {{.Username}},
</p>
<p>
  Please find attached a copy of your diploma for your records.
  <ul>
    <li>Name: {{.Username}}</li>
    <li>Degree: {{.Degree}}</li>
    <li>Year of Graduation: {{.Year}}</li>
  </ul>
</p>
<p>
  Should you require any additional documentation or verification,
  please go to our <a href="https://wcu.edu.pl">official website</a>
</p>
<p>
  Squawk Squawk
</p>
`))

func (f *DiplomaMailerFunction) composeEmail(req *models.DiplomaRequest, pdf []byte) (email.Message, error) {
	var body bytes.Buffer
	err := diplomaEmailBody.Execute(&body, struct {
		Username string
		Degree   string
		Year     int
	}{req.Username, req.Degree, f.now().UTC().Year()})
	if err != nil {
		return email.Message{}, fmt.Errorf("render email body: %w", err)
	}
	return email.Message{
		From:    f.config.From,
		To:      req.Email,
		Subject: f.config.Subject,
		HTML:    body.String(),
		Attachments: []email.Attachment{{
			Filename: attachmentName(req.Username),
			Content:  pdf,
		}},
	}, nil
}

func attachmentName(username string) string {
	return "WCU_Diploma_" + strings.ReplaceAll(username, " ", "_") + ".pdf"
}

// emailDomain keeps recipient addresses out of the logs.
func emailDomain(addr string) string {
	if _, domain, ok := strings.Cut(addr, "@"); ok {
		return domain
	}
	return ""
}
