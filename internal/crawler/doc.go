// Package crawler implements the breach-watch crawl core: frontier
// expansion from seed URLs and search dorks, polite fetching under
// robots.txt, target file classification and download, and the per-run
// orchestration that streams found files to the job-management layer.
package crawler
