// Package crawler implements the crawl side of the catalog pipeline: paging a
// source's listing endpoint for identifiers, fetching one detail document per
// identifier, and the Pipeline that drives a whole run from listing to export.
package crawler
