package db

// schemaSQL creates the application's database schema for SQLite. It is
// designed to be idempotent using `CREATE TABLE IF NOT EXISTS`.
const schemaSQL = "schema.sql"

// Settings, page links and projects.
const settingGetSQL = "setting_get.sql"
const settingUpsertSQL = "setting_upsert.sql"
const pageLinkGetSQL = "page_link_get.sql"
const projectClientGetSQL = "project_client_get.sql"

// Accounts.
const accountGetSQL = "account_get.sql"
const accountUpsertSQL = "account_upsert.sql"
const accountSummaryUpdateSQL = "account_summary_update.sql"

// Posts and their daily metrics snapshots.
const postGetSQL = "post_get.sql"
const postRowSQL = "post_row.sql"
const postUpsertSQL = "post_upsert.sql"
const postsSQL = "posts.sql"
const postMetricsGetSQL = "post_metrics_get.sql"
const postMetricsUpsertSQL = "post_metrics_upsert.sql"
const postMetricsRowsSQL = "post_metrics_rows.sql"

// Daily page insights and audience demographics.
const pageInsightsUpsertSQL = "page_insights_upsert.sql"
const pageInsightsSQL = "page_insights.sql"
const netGrowthSinceSQL = "net_growth_since.sql"
const demographicsUpsertSQL = "demographics_upsert.sql"
