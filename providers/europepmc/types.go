package europepmc

// SearchResponse ist die Top-Level-Struktur der Europe PMC API-Antwort.
type SearchResponse struct {
	HitCount   int `json:"hitCount"`
	ResultList struct {
		Result []Article `json:"result"`
	} `json:"resultList"`
}

// Article repräsentiert einen einzelnen Artikel in der API-Antwort.
type Article struct {
	ID                   string `json:"id"`
	Source               string `json:"source"`
	DOI                  string `json:"doi"`
	Title                string `json:"title"`
	AuthorString         string `json:"authorString"`
	JournalTitle         string `json:"journalTitle"`
	PubYear              string `json:"pubYear"`
	FirstPublicationDate string `json:"firstPublicationDate"`
	AbstractText         string `json:"abstractText"`
	BookOrReportDetails  *struct {
		Publisher string `json:"publisher"`
	} `json:"bookOrReportDetails"`
	JournalInfo *struct {
		Journal struct {
			Title string `json:"title"`
		} `json:"journal"`
	} `json:"journalInfo"`
}

// Venue liefert den Journal-Titel aus den verfügbaren Feldern.
func (a *Article) Venue() string {
	if a.JournalTitle != "" {
		return a.JournalTitle
	}
	if a.JournalInfo != nil {
		return a.JournalInfo.Journal.Title
	}
	return ""
}
