// Package source opens access logs from local files, standard input,
// HTTP(S) URLs, or S3 objects. Zip archives are unpacked transparently.
package source

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/szaher/sessionize/internal/config"
)

// ErrNoLogInArchive is returned for a zip archive without a .csv member.
var ErrNoLogInArchive = errors.New("archive contains no .csv log")

// S3Client is the subset of the S3 API used to read objects.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener resolves log URIs to readers. It is safe for concurrent use.
type Opener struct {
	HTTPClient *http.Client
	S3Config   config.S3Config
	// UserAgent is sent with http(s) requests when set.
	UserAgent string
	// Limiter, if set, paces http(s) requests.
	Limiter *rate.Limiter

	s3Mu   sync.Mutex
	s3     S3Client
	s3Init singleflight.Group
}

// OpenerOption configures an Opener.
type OpenerOption func(*Opener)

// WithS3Client injects an S3 client instead of loading one from the AWS
// default configuration chain.
func WithS3Client(c S3Client) OpenerOption {
	return func(o *Opener) { o.s3 = c }
}

// WithHTTPClient sets the client used for http(s) URIs.
func WithHTTPClient(c *http.Client) OpenerOption {
	return func(o *Opener) { o.HTTPClient = c }
}

// WithRateLimit allows at most perSecond http(s) requests per second.
// Zero or less means unlimited.
func WithRateLimit(perSecond float64) OpenerOption {
	return func(o *Opener) {
		if perSecond > 0 {
			o.Limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithUserAgent sets the User-Agent of http(s) requests.
func WithUserAgent(ua string) OpenerOption {
	return func(o *Opener) { o.UserAgent = ua }
}

// NewOpener creates an Opener.
func NewOpener(cfg config.S3Config, opts ...OpenerOption) *Opener {
	o := &Opener{
		HTTPClient: http.DefaultClient,
		S3Config:   cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open returns the log stored at uri: "-" for standard input, an
// http(s):// or s3://bucket/key URL, or a local path.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	switch {
	case uri == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		rc, err = o.openHTTP(ctx, uri)
	case strings.HasPrefix(uri, "s3://"):
		rc, err = o.openS3(ctx, uri)
	default:
		if isZip(uri) {
			return openZipFile(uri)
		}
		return os.Open(uri)
	}
	if err != nil {
		return nil, err
	}
	if isZip(uri) {
		return spoolZip(rc)
	}
	return rc, nil
}

// Name returns the base file name of uri, without query string.
func Name(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" {
		return path.Base(u.Path)
	}
	return path.Base(strings.ReplaceAll(uri, `\`, "/"))
}

func isZip(uri string) bool {
	return strings.EqualFold(path.Ext(Name(uri)), ".zip")
}

func (o *Opener) openHTTP(ctx context.Context, uri string) (io.ReadCloser, error) {
	if o.Limiter != nil {
		if err := o.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetching %s: %w", uri, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", uri, err)
	}
	if o.UserAgent != "" {
		req.Header.Set("User-Agent", o.UserAgent)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", uri, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: unexpected status %s", uri, resp.Status)
	}
	return resp.Body, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri %q must name a bucket and a key", uri)
	}
	return bucket, key, nil
}

func (o *Opener) openS3(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	client, err := o.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", uri, err)
	}
	return out.Body, nil
}

func (o *Opener) s3Client(ctx context.Context) (S3Client, error) {
	o.s3Mu.Lock()
	c := o.s3
	o.s3Mu.Unlock()
	if c != nil {
		return c, nil
	}

	// Concurrent batch jobs share one configuration load.
	v, err, _ := o.s3Init.Do("s3", func() (interface{}, error) {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if o.S3Config.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(o.S3Config.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(opts *s3.Options) {
			if o.S3Config.Endpoint != "" {
				opts.BaseEndpoint = &o.S3Config.Endpoint
			}
			opts.UsePathStyle = o.S3Config.PathStyle
		})

		o.s3Mu.Lock()
		o.s3 = client
		o.s3Mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(S3Client), nil
}

// zipLog is the first .csv member of an archive.
type zipLog struct {
	io.ReadCloser
	release func() error
}

func (z *zipLog) Close() error {
	err := z.ReadCloser.Close()
	if rerr := z.release(); err == nil {
		err = rerr
	}
	return err
}

func openZipFile(name string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", name, err)
	}
	member, err := firstLog(&zr.Reader)
	if err != nil {
		_ = zr.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &zipLog{ReadCloser: member, release: zr.Close}, nil
}

// spoolZip copies a remote archive to a temporary file, since zip needs
// random access.
func spoolZip(rc io.ReadCloser) (io.ReadCloser, error) {
	defer func() { _ = rc.Close() }()

	tmp, err := os.CreateTemp("", "sessionize-*.zip")
	if err != nil {
		return nil, fmt.Errorf("spooling archive: %w", err)
	}
	cleanup := func() error {
		cerr := tmp.Close()
		if rerr := os.Remove(tmp.Name()); cerr == nil {
			cerr = rerr
		}
		return cerr
	}

	size, err := io.Copy(tmp, rc)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("spooling archive: %w", err)
	}
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		_ = cleanup()
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	member, err := firstLog(zr)
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	return &zipLog{ReadCloser: member, release: cleanup}, nil
}

func firstLog(zr *zip.Reader) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".csv") {
			continue
		}
		return f.Open()
	}
	return nil, ErrNoLogInArchive
}
