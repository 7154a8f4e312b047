// Package cmd defines the pdfcrawler command line.
//
// Architecture overview:
//   - Frontier: seeds and discovered page links are normalized, deduplicated and handed out round-robin across
//     domains to a fixed pool of fetch workers (crawler.fetch_workers).
//   - Fetch pipeline: each worker checks robots.txt (cached per host), waits on the per-domain politeness governor,
//     fetches the page with Colly under the retry policy, classifies the response and either extracts links with
//     goquery or hands the response to the download stage as a document.
//   - Download stage: a bounded queue feeds crawler.download_workers goroutines that stream each document into a
//     temporary file under <output_dir>/documents and rename it into place once complete.
//   - Metadata: every finished document task appends exactly one row to <output_dir>/metadata.csv, optionally
//     mirrored into Postgres.
//   - Observability: zap logs go to stderr and <output_dir>/logs; progress events feed Prometheus collectors that the
//     optional status server exposes on /metrics.
//
// Operational notes:
//   - SIGINT/SIGTERM stop new fetches; in-flight work gets crawler.cancel_grace to finish and unfinished documents
//     are recorded as Canceled. An interrupted run exits with status 130.
//   - Configure via YAML (--config) or CRAWLER_* environment variables, e.g. CRAWLER_OUTPUT_DIR,
//     CRAWLER_CRAWLER_FETCH_WORKERS, CRAWLER_METADATA_POSTGRES_DSN.
package cmd
