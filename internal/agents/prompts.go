package agents

import (
	"fmt"
	"strings"
	"time"
)

// Schema text given to the generation collaborator. It describes tables
// only; connection details never enter a prompt.
const profileSchema = `SQLite table argo_profiles, one row per measurement level:
  float_id      TEXT     WMO float number, e.g. '2902224'
  cycle_number  INTEGER  profile cycle, increases over the float's life
  profile_time  TEXT     ISO-8601 UTC timestamp of the profile
  latitude      REAL     surface latitude, degrees north
  longitude     REAL     surface longitude, degrees east
  depth         REAL     pressure/depth in metres
  temperature   REAL     degrees Celsius, may be NULL
  salinity      REAL     practical salinity units, may be NULL
  oxygen        REAL     dissolved oxygen in umol/kg, may be NULL
  chlorophyll   REAL     chlorophyll-a in mg/m3, may be NULL
  quality_status TEXT    'REAL_TIME' or 'DELAYED'

Typical patterns: aggregate by float_id and cycle_number; filter
profile_time with ISO strings (profile_time >= '2023-01-01'); bin depth
with CAST(depth / 100 AS INTEGER) * 100; filter regions with latitude and
longitude BETWEEN bounds.`

const metadataSchema = `PostgreSQL tables describing floats:
  argo_float_metadata(float_id TEXT PRIMARY KEY, float_model TEXT, launch_date TIMESTAMPTZ,
                      launch_lat DOUBLE PRECISION, launch_lon DOUBLE PRECISION,
                      deployment_status TEXT, metadata_updated_at TIMESTAMPTZ)
      deployment_status is one of 'ACTIVE', 'INACTIVE', 'DEAD'.
  argo_float_positions(float_id TEXT, cycle_number INTEGER, profile_time TIMESTAMPTZ,
                       latitude DOUBLE PRECISION, longitude DOUBLE PRECISION, position_qc TEXT)
  argo_float_sensors(float_id TEXT, sensor TEXT, sensor_model TEXT, sensor_units TEXT)
  argo_profiles(float_id TEXT, cycle INTEGER, profile_time TIMESTAMPTZ, surface_lat DOUBLE PRECISION,
                surface_lon DOUBLE PRECISION, max_depth DOUBLE PRECISION, quality_flag TEXT)

Join on float_id. Use date_trunc and interval arithmetic for time windows.`

const sqlSystemPrompt = `You translate oceanographic research questions into a single read-only SQL query.
Rules:
- Output only the SQL statement, with no explanation.
- Use only SELECT or WITH ... SELECT.
- Use only the tables and columns listed in the schema.
- Add a LIMIT clause no larger than %d.

Schema:
%s`

const conversationalSystemPrompt = `You are Atlas, a friendly assistant for an Argo ocean float research service.
Reply briefly to greetings and general questions. You can help with float
measurements (temperature, salinity, oxygen, chlorophyll), float deployments
and positions, and oceanographic literature. Do not invent data values.`

func structuredSystemPrompt(schema string, maxRows int) string {
	return fmt.Sprintf(sqlSystemPrompt, maxRows, schema)
}

// structuredUserPrompt renders the question and any scope as constraints.
func structuredUserPrompt(q Query) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(q.Text))
	if q.FloatID != "" {
		fmt.Fprintf(&b, "\nRestrict to float_id = '%s'.", escapeLiteral(q.FloatID))
	}
	if tr := q.TimeRange; tr != nil {
		if !tr.Start.IsZero() {
			fmt.Fprintf(&b, "\nOnly include observations at or after %s.", tr.Start.UTC().Format(time.RFC3339))
		}
		if !tr.End.IsZero() {
			fmt.Fprintf(&b, "\nOnly include observations before %s.", tr.End.UTC().Format(time.RFC3339))
		}
	}
	b.WriteString("\nSQL:")
	return b.String()
}

// escapeLiteral doubles single quotes so a scope value cannot close the
// literal it is placed in.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
