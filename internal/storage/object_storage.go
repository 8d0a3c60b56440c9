package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrObjectStorageDisabled is returned when media operations are attempted
// without a configured bucket.
var ErrObjectStorageDisabled = errors.New("object storage is not configured")

// ErrObjectNotFound is returned when the bucket has no object at the key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectReference identifies a stored object and, when a public endpoint is
// configured, the URL it is reachable at.
type ObjectReference struct {
	Key string
	URL string
}

// ObjectInfo carries the metadata returned by a Head request.
type ObjectInfo struct {
	Key           string
	ContentLength int64
	ContentType   string
}

// ObjectRange is a streamed (possibly partial) object. The caller must close
// Body; closing releases the transfer slot held for the download.
type ObjectRange struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentLength int64
	ContentRange  string
	ContentType   string
}

// ObjectStore is the media bucket client used by the upload and streaming
// handlers.
type ObjectStore interface {
	Enabled() bool
	Put(ctx context.Context, key, contentType string, body []byte) (ObjectReference, error)
	Get(ctx context.Context, key, rangeHeader string) (*ObjectRange, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	SignedURL(key string, expiry time.Duration) (string, error)
}

func applyObjectStorageDefaults(cfg ObjectStorageConfig) ObjectStorageConfig {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultObjectStorageRequestTimeout
	}
	if cfg.MaxConcurrentTransfers <= 0 {
		cfg.MaxConcurrentTransfers = defaultObjectStorageConcurrency
	}
	return cfg
}

type noopObjectStore struct{}

func (noopObjectStore) Enabled() bool { return false }

func (noopObjectStore) Put(ctx context.Context, key, contentType string, body []byte) (ObjectReference, error) {
	return ObjectReference{}, ErrObjectStorageDisabled
}

func (noopObjectStore) Get(ctx context.Context, key, rangeHeader string) (*ObjectRange, error) {
	return nil, ErrObjectStorageDisabled
}

func (noopObjectStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	return ObjectInfo{}, ErrObjectStorageDisabled
}

func (noopObjectStore) Delete(ctx context.Context, key string) error {
	return ErrObjectStorageDisabled
}

func (noopObjectStore) SignedURL(key string, expiry time.Duration) (string, error) {
	return "", ErrObjectStorageDisabled
}

// NewObjectStore builds an S3-compatible client from the configuration. An
// empty bucket or endpoint yields a disabled client so media endpoints can
// fail gracefully in development.
func NewObjectStore(cfg ObjectStorageConfig) ObjectStore {
	cfg = applyObjectStorageDefaults(cfg)
	trimmedBucket := strings.TrimSpace(cfg.Bucket)
	trimmedEndpoint := strings.TrimSpace(cfg.Endpoint)
	if trimmedBucket == "" || trimmedEndpoint == "" {
		return noopObjectStore{}
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := trimmedEndpoint
	if strings.Contains(endpoint, "://") {
		if parsed, err := url.Parse(endpoint); err == nil {
			endpoint = parsed.Host
		}
	}
	baseURL := &url.URL{Scheme: scheme, Host: endpoint}
	if baseURL.Host == "" {
		return noopObjectStore{}
	}
	sanitized := cfg
	sanitized.Bucket = trimmedBucket
	return &s3ObjectStore{
		cfg:      sanitized,
		endpoint: baseURL,
		// Get streams bodies past the request timeout, so the client
		// itself carries no deadline; Put/Head/Delete bound themselves
		// through the request context.
		httpClient: &http.Client{},
		transfers:  semaphore.NewWeighted(sanitized.MaxConcurrentTransfers),
		now:        time.Now,
	}
}

type s3ObjectStore struct {
	cfg        ObjectStorageConfig
	endpoint   *url.URL
	httpClient *http.Client
	transfers  *semaphore.Weighted
	now        func() time.Time
}

func (c *s3ObjectStore) Enabled() bool { return true }

func (c *s3ObjectStore) Put(ctx context.Context, key, contentType string, body []byte) (ObjectReference, error) {
	if err := c.transfers.Acquire(ctx, 1); err != nil {
		return ObjectReference{}, fmt.Errorf("acquire transfer slot: %w", err)
	}
	defer c.transfers.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	finalKey := c.applyPrefix(key)
	target := c.objectURL(finalKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(body))
	if err != nil {
		return ObjectReference{}, fmt.Errorf("create upload request: %w", err)
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if err := c.signRequest(request, hashSHA256Hex(body)); err != nil {
		return ObjectReference{}, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return ObjectReference{}, fmt.Errorf("upload object %s: %w", finalKey, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return ObjectReference{}, fmt.Errorf("upload object %s: unexpected status %d", finalKey, response.StatusCode)
	}
	return ObjectReference{Key: finalKey, URL: c.publicURL(finalKey)}, nil
}

// Get streams the object, forwarding the Range header as-is. The transfer
// slot stays held until the returned body is closed.
func (c *s3ObjectStore) Get(ctx context.Context, key, rangeHeader string) (*ObjectRange, error) {
	if err := c.transfers.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire transfer slot: %w", err)
	}
	release := func() { c.transfers.Release(1) }

	finalKey := c.applyPrefix(key)
	target := c.objectURL(finalKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		release()
		return nil, fmt.Errorf("create download request: %w", err)
	}
	if rangeHeader != "" {
		request.Header.Set("Range", rangeHeader)
	}
	if err := c.signRequest(request, emptyPayloadHash); err != nil {
		release()
		return nil, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		release()
		return nil, fmt.Errorf("download object %s: %w", finalKey, err)
	}
	if response.StatusCode == http.StatusNotFound {
		_ = response.Body.Close()
		release()
		return nil, fmt.Errorf("download object %s: %w", finalKey, ErrObjectNotFound)
	}
	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusPartialContent {
		_ = response.Body.Close()
		release()
		return nil, fmt.Errorf("download object %s: unexpected status %d", finalKey, response.StatusCode)
	}
	return &ObjectRange{
		Body:          &releasingBody{ReadCloser: response.Body, release: release},
		StatusCode:    response.StatusCode,
		ContentLength: response.ContentLength,
		ContentRange:  response.Header.Get("Content-Range"),
		ContentType:   response.Header.Get("Content-Type"),
	}, nil
}

func (c *s3ObjectStore) Head(ctx context.Context, key string) (ObjectInfo, error) {
	if err := c.transfers.Acquire(ctx, 1); err != nil {
		return ObjectInfo{}, fmt.Errorf("acquire transfer slot: %w", err)
	}
	defer c.transfers.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	finalKey := c.applyPrefix(key)
	target := c.objectURL(finalKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodHead, target.String(), nil)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("create head request: %w", err)
	}
	if err := c.signRequest(request, emptyPayloadHash); err != nil {
		return ObjectInfo{}, err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("head object %s: %w", finalKey, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode == http.StatusNotFound {
		return ObjectInfo{}, fmt.Errorf("head object %s: %w", finalKey, ErrObjectNotFound)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return ObjectInfo{}, fmt.Errorf("head object %s: unexpected status %d", finalKey, response.StatusCode)
	}
	return ObjectInfo{
		Key:           finalKey,
		ContentLength: response.ContentLength,
		ContentType:   response.Header.Get("Content-Type"),
	}, nil
}

func (c *s3ObjectStore) Delete(ctx context.Context, key string) error {
	if err := c.transfers.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire transfer slot: %w", err)
	}
	defer c.transfers.Release(1)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	finalKey := c.applyPrefix(key)
	target := c.objectURL(finalKey)
	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, target.String(), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	if err := c.signRequest(request, emptyPayloadHash); err != nil {
		return err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("delete object %s: %w", finalKey, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("delete object %s: unexpected status %d", finalKey, response.StatusCode)
}

// SignedURL produces a query-presigned GET URL for the object, valid for the
// given duration.
func (c *s3ObjectStore) SignedURL(key string, expiry time.Duration) (string, error) {
	accessKey := strings.TrimSpace(c.cfg.AccessKey)
	secretKey := strings.TrimSpace(c.cfg.SecretKey)
	if accessKey == "" || secretKey == "" {
		return "", errors.New("signed URLs require credentials")
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	region := strings.TrimSpace(c.cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	finalKey := c.applyPrefix(key)
	target := c.objectURL(finalKey)

	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	scope := strings.Join([]string{dateStamp, region, "s3", "aws4_request"}, "/")

	query := url.Values{}
	query.Set("X-Amz-Algorithm", "AWS4-HMAC-SHA256")
	query.Set("X-Amz-Credential", accessKey+"/"+scope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.Itoa(int(expiry.Seconds())))
	query.Set("X-Amz-SignedHeaders", "host")
	target.RawQuery = query.Encode()

	canonicalRequest := strings.Join([]string{
		http.MethodGet,
		canonicalURI(target),
		canonicalQuery(target),
		"host:" + target.Host + "\n",
		"host",
		"UNSIGNED-PAYLOAD",
	}, "\n")
	hash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
	signingKey := deriveSigningKey(secretKey, dateStamp, region)
	signature := hmacSHA256Hex(signingKey, stringToSign)

	query.Set("X-Amz-Signature", signature)
	target.RawQuery = query.Encode()
	return target.String(), nil
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return err
}

func (c *s3ObjectStore) applyPrefix(key string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	prefix := strings.Trim(strings.TrimSpace(c.cfg.Prefix), "/")
	if prefix == "" {
		return trimmed
	}
	if trimmed == "" {
		return prefix
	}
	if trimmed == prefix || strings.HasPrefix(trimmed, prefix+"/") {
		return trimmed
	}
	return prefix + "/" + trimmed
}

func (c *s3ObjectStore) objectURL(finalKey string) *url.URL {
	basePath := strings.TrimRight(c.endpoint.Path, "/")
	path := "/" + strings.TrimLeft(c.cfg.Bucket, "/")
	trimmedKey := strings.TrimLeft(finalKey, "/")
	if trimmedKey != "" {
		path += "/" + trimmedKey
	}
	if basePath != "" {
		path = basePath + path
	}
	u := *c.endpoint
	u.Path = path
	return &u
}

func (c *s3ObjectStore) publicURL(key string) string {
	base := strings.TrimSpace(c.cfg.PublicEndpoint)
	if base == "" {
		return ""
	}
	trimmedBase := strings.TrimRight(base, "/")
	trimmedKey := strings.TrimLeft(key, "/")
	if trimmedKey == "" {
		return trimmedBase
	}
	return trimmedBase + "/" + trimmedKey
}

func (c *s3ObjectStore) signRequest(req *http.Request, payloadHash string) error {
	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	accessKey := strings.TrimSpace(c.cfg.AccessKey)
	secretKey := strings.TrimSpace(c.cfg.SecretKey)
	if accessKey == "" || secretKey == "" {
		return nil
	}
	region := strings.TrimSpace(c.cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	now := c.now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)
	canonicalHeaders, signedHeaders := canonicalizeHeaders(req)
	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")
	hash := sha256.Sum256([]byte(canonicalRequest))
	scope := strings.Join([]string{dateStamp, region, "s3", "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(hash[:]),
	}, "\n")
	signingKey := deriveSigningKey(secretKey, dateStamp, region)
	signature := hmacSHA256Hex(signingKey, stringToSign)
	authorization := fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		accessKey,
		scope,
		signedHeaders,
		signature,
	)
	req.Header.Set("Authorization", authorization)
	return nil
}

func canonicalizeHeaders(req *http.Request) (string, string) {
	headerMap := make(map[string][]string)
	for key, values := range req.Header {
		lower := strings.ToLower(key)
		if lower == "authorization" {
			continue
		}
		cleaned := make([]string, 0, len(values))
		for _, v := range values {
			cleaned = append(cleaned, strings.TrimSpace(v))
		}
		headerMap[lower] = cleaned
	}
	if _, ok := headerMap["host"]; !ok && req.Host != "" {
		headerMap["host"] = []string{req.Host}
	}
	keys := make([]string, 0, len(headerMap))
	for key := range headerMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	var signed []string
	for _, key := range keys {
		values := headerMap[key]
		builder.WriteString(key)
		builder.WriteByte(':')
		builder.WriteString(strings.Join(values, ","))
		builder.WriteByte('\n')
		signed = append(signed, key)
	}
	return builder.String(), strings.Join(signed, ";")
}

func canonicalURI(u *url.URL) string {
	if u == nil {
		return "/"
	}
	path := u.EscapedPath()
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func canonicalQuery(u *url.URL) string {
	if u == nil {
		return ""
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil || len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	for idx, key := range keys {
		if idx > 0 {
			builder.WriteByte('&')
		}
		sort.Strings(values[key])
		for vIdx, value := range values[key] {
			if vIdx > 0 {
				builder.WriteByte('&')
			}
			builder.WriteString(url.QueryEscape(key))
			builder.WriteByte('=')
			builder.WriteString(url.QueryEscape(value))
		}
	}
	return builder.String()
}

func deriveSigningKey(secret, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte("s3"))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key []byte, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacSHA256Hex(key []byte, data string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var emptyPayloadHash = hashSHA256Hex(nil)

func hashSHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
