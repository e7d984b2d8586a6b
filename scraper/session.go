package scraper

import (
	"io"
	"log"

	"scrapekit/fetcher"
	"scrapekit/models"

	"github.com/google/uuid"
)

// Session is the state of one run. It owns the parser exclusively and is
// discarded when the run ends.
type Session struct {
	ID         string
	URL        string
	PageNumber int
	Records    []models.Record

	parser fetcher.Parser
	page   fetcher.Page
}

func newSession(p fetcher.Parser) *Session {
	return &Session{
		ID:     uuid.New().String(),
		parser: p,
	}
}

// setPage makes page current, closing the previous one if it is a distinct
// closable page
func (s *Session) setPage(page fetcher.Page) {
	if s.page != nil && s.page != page {
		closePage(s.page)
	}
	s.page = page
}

func (s *Session) add(records []models.Record) {
	s.Records = append(s.Records, records...)
}

// Close releases the current page and the parser
func (s *Session) Close() error {
	if s.page != nil {
		closePage(s.page)
		s.page = nil
	}
	if s.parser == nil {
		return nil
	}
	err := s.parser.Close()
	s.parser = nil
	return err
}

func closePage(page fetcher.Page) {
	c, ok := page.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Printf("Warning: Failed to close page %s: %v\n", page.URL(), err)
	}
}
