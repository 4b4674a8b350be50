// ABOUTME: PDF attachment handling for entry pass mail
// ABOUTME: Accepts inline base64 or fetches by URL; fetch failures are non-fatal

package mail

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// maxAttachmentSize caps a fetched PDF at 10MB.
const maxAttachmentSize = 10 << 20

// InlineAttachment builds an attachment from base64 content, stripping any
// data-URL prefix ("data:application/pdf;base64,....").
func InlineAttachment(filename, content string) *Attachment {
	if filename == "" || content == "" {
		return nil
	}
	if idx := strings.Index(content, ","); idx >= 0 {
		content = content[idx+1:]
	}
	return &Attachment{Filename: filename, Content: content}
}

// FetchAttachment downloads a PDF and returns it as a base64 attachment.
// Any failure (bad URL, non-PDF content type, transport error) returns nil:
// the mail still goes out, just without the attachment.
func FetchAttachment(ctx context.Context, client *http.Client, rawURL string) *Attachment {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "application/pdf") {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentSize))
	if err != nil || len(data) == 0 {
		return nil
	}

	return &Attachment{
		Filename: attachmentFilename(rawURL),
		Content:  base64.StdEncoding.EncodeToString(data),
	}
}

// attachmentFilename derives a .pdf filename from the URL path.
func attachmentFilename(rawURL string) string {
	name := "event-instructions.pdf"
	if parsed, err := url.Parse(rawURL); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "." && base != "/" {
			name = base
		}
	}
	if !strings.HasSuffix(name, ".pdf") {
		name += ".pdf"
	}
	return name
}
