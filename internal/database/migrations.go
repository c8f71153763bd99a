package database

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// NotifyChannel is the LISTEN channel the change trigger publishes on.
const NotifyChannel = "crm_changes"

// watchedTables get the change trigger.
var watchedTables = []string{
	"conversations",
	"messages",
	"leads",
	"lead_tags",
	"jobs",
	"job_statuses",
}

func RunMigrations(ctx context.Context, db *Database, log logrus.FieldLogger) error {
	createWorkspacesTable := `
	CREATE TABLE IF NOT EXISTS workspaces (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) UNIQUE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	createMembersTable := `
	CREATE TABLE IF NOT EXISTS workspace_members (
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'member' CHECK (role IN ('owner', 'admin', 'member')),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (workspace_id, user_id)
	);`

	createLeadsTable := `
	CREATE TABLE IF NOT EXISTS leads (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		pipeline_id UUID,
		stage_id VARCHAR(100) NOT NULL DEFAULT 'new',
		assigned_to UUID,
		name VARCHAR(255) NOT NULL,
		phone VARCHAR(50) NOT NULL DEFAULT '',
		email VARCHAR(255) NOT NULL DEFAULT '',
		value NUMERIC(14,2) NOT NULL DEFAULT 0,
		source VARCHAR(100) NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	createTagsTable := `
	CREATE TABLE IF NOT EXISTS tags (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		name VARCHAR(100) NOT NULL,
		color VARCHAR(20) NOT NULL DEFAULT '',
		UNIQUE (workspace_id, name)
	);`

	createLeadTagsTable := `
	CREATE TABLE IF NOT EXISTS lead_tags (
		lead_id UUID NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
		tag_id UUID NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		PRIMARY KEY (lead_id, tag_id)
	);`

	createConversationsTable := `
	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		phone VARCHAR(50) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		last_message_at TIMESTAMP WITH TIME ZONE,
		unread BOOLEAN NOT NULL DEFAULT FALSE,
		message_count INTEGER NOT NULL DEFAULT 0,
		lead_id UUID REFERENCES leads(id) ON DELETE SET NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		UNIQUE (workspace_id, phone)
	);`

	// Messages reference their conversation without cascade: conversations
	// are deleted only after their messages.
	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		conversation_id UUID NOT NULL REFERENCES conversations(id),
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		direction VARCHAR(10) NOT NULL CHECK (direction IN ('inbound', 'outbound')),
		kind VARCHAR(20) NOT NULL DEFAULT 'text' CHECK (kind IN ('text', 'image', 'audio', 'video', 'document')),
		body TEXT NOT NULL DEFAULT '',
		media_url TEXT,
		media_name TEXT,
		media_mime TEXT,
		status VARCHAR(20) NOT NULL DEFAULT 'sending' CHECK (status IN ('sending', 'sent', 'delivered', 'read', 'failed')),
		external_id TEXT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	createJobStatusesTable := `
	CREATE TABLE IF NOT EXISTS job_statuses (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		label VARCHAR(100) NOT NULL,
		color VARCHAR(20) NOT NULL DEFAULT '',
		position INTEGER NOT NULL DEFAULT 0
	);`

	createJobsTable := `
	CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id UUID NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		title VARCHAR(500) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status VARCHAR(100) NOT NULL DEFAULT 'todo',
		priority VARCHAR(20) NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high', 'urgent')),
		assigned_to UUID,
		due_date TIMESTAMP WITH TIME ZONE,
		tags TEXT[] NOT NULL DEFAULT '{}',
		total_hours NUMERIC(12,6) NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	createJobChildTables := `
	CREATE TABLE IF NOT EXISTS job_subtasks (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		title VARCHAR(500) NOT NULL,
		done BOOLEAN NOT NULL DEFAULT FALSE,
		position INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS job_time_logs (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		start_time TIMESTAMP WITH TIME ZONE NOT NULL,
		end_time TIMESTAMP WITH TIME ZONE,
		hours NUMERIC(12,6),
		note TEXT NOT NULL DEFAULT '',
		CHECK (end_time IS NULL OR end_time > start_time)
	);
	CREATE TABLE IF NOT EXISTS job_comments (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		job_id UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	// Create indexes
	createIndexes := `
	CREATE INDEX IF NOT EXISTS idx_members_user_id ON workspace_members(user_id);
	CREATE INDEX IF NOT EXISTS idx_leads_workspace_id ON leads(workspace_id);
	CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads(workspace_id, phone);
	CREATE INDEX IF NOT EXISTS idx_conversations_workspace_id ON conversations(workspace_id, last_message_at DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_external_id ON messages(external_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_workspace_status ON jobs(workspace_id, status);
	CREATE INDEX IF NOT EXISTS idx_jobs_tags ON jobs USING GIN (tags);
	CREATE INDEX IF NOT EXISTS idx_time_logs_job_id ON job_time_logs(job_id);
	CREATE UNIQUE INDEX IF NOT EXISTS one_open_time_log ON job_time_logs(job_id, user_id) WHERE end_time IS NULL;`

	createNotifyFunction := fmt.Sprintf(`
	CREATE OR REPLACE FUNCTION crm_notify_change() RETURNS trigger AS $$
	DECLARE
		rec JSONB;
		old_rec JSONB;
		payload JSONB;
	BEGIN
		IF TG_OP <> 'DELETE' THEN rec := to_jsonb(NEW); END IF;
		IF TG_OP <> 'INSERT' THEN old_rec := to_jsonb(OLD); END IF;

		payload := jsonb_build_object(
			'type', TG_OP,
			'schema', TG_TABLE_SCHEMA,
			'table', TG_TABLE_NAME,
			'workspace_id', COALESCE(rec->>'workspace_id', old_rec->>'workspace_id', ''),
			'commit_timestamp', to_char(now() AT TIME ZONE 'utc', 'YYYY-MM-DD"T"HH24:MI:SS.US"Z"')
		);
		IF rec IS NOT NULL THEN payload := payload || jsonb_build_object('record', rec); END IF;
		IF old_rec IS NOT NULL THEN payload := payload || jsonb_build_object('old_record', old_rec); END IF;

		-- NOTIFY payloads are capped at 8000 bytes; large rows travel as ids only.
		IF octet_length(payload::text) > 7900 THEN
			payload := (payload - 'record' - 'old_record') || jsonb_build_object(
				'record', jsonb_build_object('id', COALESCE(rec->>'id', old_rec->>'id'))
			);
		END IF;

		PERFORM pg_notify('%s', payload::text);
		RETURN COALESCE(NEW, OLD);
	END;
	$$ LANGUAGE plpgsql;`, NotifyChannel)

	migrations := []string{
		createWorkspacesTable,
		createMembersTable,
		createLeadsTable,
		createTagsTable,
		createLeadTagsTable,
		createConversationsTable,
		createMessagesTable,
		createJobStatusesTable,
		createJobsTable,
		createJobChildTables,
		createIndexes,
		createNotifyFunction,
	}
	for _, table := range watchedTables {
		migrations = append(migrations, fmt.Sprintf(`
	DROP TRIGGER IF EXISTS crm_notify_change ON %[1]s;
	CREATE TRIGGER crm_notify_change AFTER INSERT OR UPDATE OR DELETE ON %[1]s
		FOR EACH ROW EXECUTE FUNCTION crm_notify_change();`, table))
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i, err)
		}
	}

	log.WithField("migrations", len(migrations)).Info("Database migrations completed successfully")
	return nil
}
