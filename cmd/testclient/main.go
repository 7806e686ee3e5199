package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

func main() {
	audioFile := flag.String("audio", "testdata/sample.wav", "Path to an audio file")
	server := flag.String("server", "http://localhost:8000", "STT service base URL")
	language := flag.String("language", "wol", "Source language (wol, ful)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Request timeout")
	flag.Parse()

	body, contentType, err := buildForm(*audioFile, *language)
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *server+"/api/stt/transcribe", body)
	if err != nil {
		log.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	log.Printf("Uploading %s (language=%s) to %s", *audioFile, *language, *server)
	start := time.Now()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	log.Printf("HTTP %d in %s (request id %s)", resp.StatusCode, time.Since(start).Round(time.Millisecond), resp.Header.Get("X-Request-Id"))

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	os.Stdout.Write(append(raw, '\n'))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func buildForm(path, language string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("language", language); err != nil {
		return nil, "", err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
