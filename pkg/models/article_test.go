package models

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// ArticleSuite is a test suite for article domain helpers.
type ArticleSuite struct {
	suite.Suite
}

func TestArticleSuite(t *testing.T) {
	suite.Run(t, new(ArticleSuite))
}

func (s *ArticleSuite) TestTitleHashNormalizes() {
	base := TitleHash("Quake Hits Coast")

	s.Equal(base, TitleHash("quake hits coast"))
	s.Equal(base, TitleHash("  Quake   Hits\tCoast "))
	s.Equal(base, TitleHash("QUAKE\nHITS COAST"))
}

func (s *ArticleSuite) TestTitleHashDistinguishesTitles() {
	s.NotEqual(TitleHash("quake hits coast"), TitleHash("quake hits the coast"))
}

func (s *ArticleSuite) TestTitleHashIsStableHex() {
	sum := TitleHash("quake hits coast")
	s.Len(sum, 64)
	s.Equal(sum, TitleHash("quake hits coast"))
	for _, r := range sum {
		s.Contains("0123456789abcdef", string(r))
	}
}

func (s *ArticleSuite) TestSourceName() {
	src := Source{Reference: "bbc", Category: "world"}
	s.Equal("bbc/world", src.Name())
}
