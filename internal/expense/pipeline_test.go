package expense

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-tracker/internal/scanning"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

var _ = Describe("Pipeline", func() {
	var (
		ctx        context.Context
		stagingDir string
		staging    Staging
		scanner    *mockScanner
		timeSrc    *mockTimeSource
		timeout    time.Duration
		pipeline   *Pipeline
		upload     Upload
		draft      *Draft
		err        error
	)

	BeforeEach(func() {
		ctx = context.Background()
		stagingDir = GinkgoT().TempDir()
		disk, diskErr := NewDiskStaging(stagingDir)
		Expect(diskErr).NotTo(HaveOccurred())
		staging = disk
		scanner = newMockScanner()
		timeSrc = &mockTimeSource{now: time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)}
		timeout = time.Second
		upload = Upload{
			Filename:    "receipt photo.jpg",
			ContentType: "image/jpeg",
			Data:        []byte("\xff\xd8\xff\xe0fake jpeg"),
		}
	})

	JustBeforeEach(func() {
		pipeline = NewPipelineWithDeps(staging, scanner, timeSrc, timeout)
		draft, err = pipeline.Ingest(ctx, upload)
	})

	stagedFiles := func() []os.DirEntry {
		entries, readErr := os.ReadDir(stagingDir)
		Expect(readErr).NotTo(HaveOccurred())
		return entries
	}

	When("the recognizer succeeds", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return a draft dated today", func() {
			Expect(draft).To(Equal(&Draft{
				Amount:      25.99,
				Category:    "Food",
				Vendor:      "Corner Cafe",
				Description: "Lunch",
				Date:        "2024-06-15",
			}))
		})

		It("should pass the staged bytes to the recognizer", func() {
			Expect(scanner.calls).To(Equal(1))
			Expect(scanner.lastData).To(Equal(upload.Data))
			Expect(scanner.lastFilename).To(Equal("receipt photo.jpg"))
			Expect(scanner.lastContentType).To(Equal("image/jpeg"))
		})

		It("should leave nothing in the staging directory", func() {
			Expect(stagedFiles()).To(BeEmpty())
		})
	})

	When("the recognizer reports more precision than cents", func() {
		BeforeEach(func() {
			scanner.receiptData = &scanning.ReceiptData{Amount: 3.14159, Category: "Food"}
		})

		It("should pass the amount through unchanged", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Amount).To(Equal(3.14159))
		})
	})

	When("the recognizer returns no description", func() {
		BeforeEach(func() {
			scanner.receiptData = &scanning.ReceiptData{Amount: 3.14159, Category: " Transport ", Vendor: "  Metro "}
		})

		It("should fill in defaults and tidy the fields", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Description).To(Equal("Auto-detected from receipt"))
			Expect(draft.Category).To(Equal("Transport"))
			Expect(draft.Vendor).To(Equal("Metro"))
		})
	})

	When("the recognizer fails", func() {
		BeforeEach(func() {
			scanner.scanErr = errors.New("worker error (status 500): boom")
		})

		It("returns a recognition error", func() {
			Expect(err).To(MatchError(ErrRecognition))
			Expect(err).To(MatchError(ContainSubstring("boom")))
			Expect(draft).To(BeNil())
		})

		It("should still release the staged file", func() {
			Expect(stagedFiles()).To(BeEmpty())
		})
	})

	When("the recognizer returns nothing", func() {
		BeforeEach(func() {
			scanner.receiptData = nil
		})

		It("returns a recognition error", func() {
			Expect(err).To(MatchError(ErrRecognition))
		})
	})

	When("the recognizer panics", func() {
		BeforeEach(func() {
			scanner.scanFunc = func(context.Context) (*scanning.ReceiptData, error) {
				panic("unexpected")
			}
		})

		It("returns a recognition error", func() {
			Expect(err).To(MatchError(ErrRecognition))
			Expect(err).To(MatchError(ContainSubstring("panic")))
			Expect(stagedFiles()).To(BeEmpty())
		})
	})

	When("the recognizer does not answer in time", func() {
		BeforeEach(func() {
			timeout = 50 * time.Millisecond
			unblock := make(chan struct{})
			DeferCleanup(func() { close(unblock) })
			scanner.scanFunc = func(context.Context) (*scanning.ReceiptData, error) {
				<-unblock
				return &scanning.ReceiptData{Amount: 1, Category: "Other"}, nil
			}
		})

		It("returns a recognition error mentioning the timeout", func() {
			Expect(err).To(MatchError(ErrRecognition))
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(err).To(MatchError(ContainSubstring("timed out")))
		})

		It("should release the staged file", func() {
			Expect(stagedFiles()).To(BeEmpty())
		})
	})

	When("the caller has already gone away", func() {
		BeforeEach(func() {
			cancelled, cancel := context.WithCancel(context.Background())
			cancel()
			ctx = cancelled
			scanner.scanFunc = func(scanCtx context.Context) (*scanning.ReceiptData, error) {
				if scanCtx.Err() != nil {
					return nil, scanCtx.Err()
				}
				return &scanning.ReceiptData{Amount: 8, Category: "Food"}, nil
			}
		})

		It("should finish the recognizer call", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Amount).To(Equal(8.0))
		})
	})

	When("the upload is a PDF", func() {
		BeforeEach(func() {
			upload.Filename = "invoice.pdf"
			upload.ContentType = "application/pdf"
			upload.Data = []byte("%PDF-1.4")
		})

		It("rejects the upload before staging or recognizing", func() {
			Expect(err).To(MatchError(ErrInvalidUpload))
			Expect(scanner.calls).To(Equal(0))
			Expect(stagedFiles()).To(BeEmpty())
		})
	})

	When("the upload is empty", func() {
		BeforeEach(func() {
			upload.Data = nil
		})

		It("rejects the upload", func() {
			Expect(err).To(MatchError(ErrInvalidUpload))
			Expect(err).To(MatchError(ContainSubstring("empty")))
			Expect(scanner.calls).To(Equal(0))
		})
	})

	When("the upload is larger than 10 MiB", func() {
		BeforeEach(func() {
			upload.Data = make([]byte, MaxUploadSize+1)
		})

		It("rejects the upload", func() {
			Expect(err).To(MatchError(ErrInvalidUpload))
			Expect(scanner.calls).To(Equal(0))
			Expect(stagedFiles()).To(BeEmpty())
		})
	})

	When("the content type carries parameters and mixed case", func() {
		BeforeEach(func() {
			upload.ContentType = "Image/PNG; charset=binary"
			upload.Data = pngHeader
		})

		It("should accept it and pass the bare type on", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(scanner.lastContentType).To(Equal("image/png"))
		})
	})

	When("the content type is missing", func() {
		BeforeEach(func() {
			upload.ContentType = ""
			upload.Data = pngHeader
		})

		It("should detect it from the data", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(scanner.lastContentType).To(Equal("image/png"))
		})
	})

	When("the staging area is unavailable", func() {
		var mock *mockStaging

		BeforeEach(func() {
			mock = newMockStaging()
			mock.stageErr = errors.New("disk full")
			staging = mock
		})

		It("returns a storage error without calling the recognizer", func() {
			Expect(err).To(MatchError(ErrStorage))
			Expect(err).To(MatchError(ContainSubstring("disk full")))
			Expect(scanner.calls).To(Equal(0))
			Expect(mock.released).To(BeEmpty())
		})
	})

	When("the staged file cannot be read back", func() {
		var mock *mockStaging

		BeforeEach(func() {
			mock = newMockStaging()
			mock.loadErr = errors.New("io error")
			staging = mock
		})

		It("returns a storage error and releases the file", func() {
			Expect(err).To(MatchError(ErrStorage))
			Expect(scanner.calls).To(Equal(0))
			Expect(mock.released).To(Equal(mock.staged))
		})
	})

	When("releasing the staged file fails", func() {
		var (
			mock *mockStaging
			logs *bytes.Buffer
		)

		BeforeEach(func() {
			mock = newMockStaging()
			mock.releaseErr = errors.New("permission denied")
			staging = mock

			logs = &bytes.Buffer{}
			slog.SetDefault(slog.New(slog.NewTextHandler(logs, nil)))
			DeferCleanup(func() {
				slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
			})
		})

		It("should still return the draft and log the failure", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft).NotTo(BeNil())
			Expect(logs.String()).To(ContainSubstring("Failed to release staged receipt"))
			Expect(logs.String()).To(ContainSubstring("permission denied"))
		})

		When("the recognizer also fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("unreachable")
			})

			It("keeps the recognition error", func() {
				Expect(err).To(MatchError(ErrRecognition))
				Expect(err).NotTo(MatchError(ErrStorage))
			})
		})
	})

	Describe("staging names", func() {
		var mock *mockStaging

		BeforeEach(func() {
			mock = newMockStaging()
			staging = mock
		})

		It("should prefix the sanitized name with a timestamp and random suffix", func() {
			Expect(mock.staged).To(HaveLen(1))
			Expect(mock.staged[0]).To(MatchRegexp(`^\d+-[0-9a-f]{8}-receipt_photo\.jpg$`))
		})
	})

	Describe("Close", func() {
		It("should close the recognizer", func() {
			Expect(pipeline.Close()).To(Succeed())
			Expect(scanner.closed).To(BeTrue())
		})
	})
})
