// Package crawler holds the shared domain types and collaborator interfaces
// used by the sitemap crawl: tasks, outcomes, the run tally, fetch requests,
// documents, and the engine/sink/sampler contracts the dispatcher drives.
package crawler
