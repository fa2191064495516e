package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-coordinator/internal/booking"
	"github.com/example/ride-coordinator/internal/geo"
	"github.com/example/ride-coordinator/internal/models"
	"github.com/example/ride-coordinator/internal/ride"
)

var ErrRideNotFound = errors.New("ride not found in store")

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies every embedded migration in name order. The scripts are
// idempotent, so running it on each start is safe.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) SaveRide(ctx context.Context, r ride.ActiveRide) error {
	oLat, oLon := coordArgs(r.Origin)
	dLat, dLon := coordArgs(r.Destination)
	var returnTime any
	if r.ReturnTime != nil {
		returnTime = r.ReturnTime.String()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(
		id, session_id, driver_id, driver_name, vehicle_info, status,
		origin_name, origin_address, origin_lat, origin_lon,
		dest_name, dest_address, dest_lat, dest_lon,
		ride_date, depart_time, return_time, seats, round_trip, payment_method_id,
		distance_km, estimated_minutes, outbound_fare, return_fare, total_fare,
		verification_code, eta_minutes, created_at, updated_at)
	VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29)
	ON CONFLICT (id) DO NOTHING`,
		r.ID, r.SessionID, r.DriverID, r.DriverName, r.VehicleInfo, string(r.Status),
		r.Origin.Name, r.Origin.Address, oLat, oLon,
		r.Destination.Name, r.Destination.Address, dLat, dLon,
		r.Date.String(), r.Time.String(), returnTime, r.Seats, r.RoundTrip, r.PaymentMethodID,
		r.Quote.DistanceKm, r.Quote.EstimatedMinutes, r.Quote.OutboundFare, r.Quote.ReturnFare, r.Quote.TotalFare,
		r.VerificationCode, r.EtaMinutes, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r ride.ActiveRide) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET status=$1, eta_minutes=$2, updated_at=$3 WHERE id=$4`,
		string(r.Status), r.EtaMinutes, r.UpdatedAt, r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRideNotFound
	}
	return nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, u ride.Update) error {
	var event, from, source any
	if u.Event != "" {
		event = string(u.Event)
	}
	if u.From != "" {
		from = string(u.From)
	}
	if u.Source != "" {
		source = u.Source
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_events(ride_id, event, from_status, to_status, source, cancelled, at)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		u.RideID, event, from, string(u.Status), source, u.Cancelled, u.At)
	if err == nil && u.Cancelled {
		_, err = p.db.ExecContext(ctx, `UPDATE rides SET cancelled=true, updated_at=$1 WHERE id=$2`, u.At, u.RideID)
	}
	return err
}

// Status reads back the stored status of a ride.
func (p *PostgresStore) Status(ctx context.Context, id string) (ride.Status, bool, error) {
	var st string
	var cancelled bool
	err := p.db.QueryRowContext(ctx, `SELECT status, cancelled FROM rides WHERE id=$1`, id).Scan(&st, &cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, ErrRideNotFound
	}
	if err != nil {
		return "", false, err
	}
	return ride.Status(st), cancelled, nil
}

const listRidesQuery = `SELECT
		id, session_id, driver_id, driver_name, vehicle_info, status,
		origin_name, origin_address, origin_lat, origin_lon,
		dest_name, dest_address, dest_lat, dest_lon,
		ride_date, depart_time, return_time, seats, round_trip, payment_method_id,
		distance_km, estimated_minutes, outbound_fare, return_fare, total_fare,
		verification_code, eta_minutes, cancelled, created_at, updated_at
	FROM rides WHERE session_id=$1
	ORDER BY created_at DESC, id DESC
	LIMIT $2`

// ListRides reads a session's rides through rides_session_idx.
func (p *PostgresStore) ListRides(ctx context.Context, sessionID string) ([]RideRecord, error) {
	rows, err := p.db.QueryContext(ctx, listRidesQuery, sessionID, maxHistory)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RideRecord
	for rows.Next() {
		rec, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRide(rows *sql.Rows) (RideRecord, error) {
	var (
		r                ride.ActiveRide
		status, depart   string
		oLat, oLon       sql.NullFloat64
		dLat, dLon       sql.NullFloat64
		day              time.Time
		returnTime, code sql.NullString
		eta              sql.NullInt64
		cancelled        bool
	)
	err := rows.Scan(
		&r.ID, &r.SessionID, &r.DriverID, &r.DriverName, &r.VehicleInfo, &status,
		&r.Origin.Name, &r.Origin.Address, &oLat, &oLon,
		&r.Destination.Name, &r.Destination.Address, &dLat, &dLon,
		&day, &depart, &returnTime, &r.Seats, &r.RoundTrip, &r.PaymentMethodID,
		&r.Quote.DistanceKm, &r.Quote.EstimatedMinutes, &r.Quote.OutboundFare, &r.Quote.ReturnFare, &r.Quote.TotalFare,
		&code, &eta, &cancelled, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return RideRecord{}, err
	}
	r.Status = ride.Status(status)
	r.Origin.Coordinate = coordFrom(oLat, oLon)
	r.Destination.Coordinate = coordFrom(dLat, dLon)
	r.Date = booking.Date{Year: day.Year(), Month: day.Month(), Day: day.Day()}
	if r.Time, err = booking.ParseClock(depart); err != nil {
		return RideRecord{}, fmt.Errorf("ride %s: %w", r.ID, err)
	}
	if returnTime.Valid {
		c, err := booking.ParseClock(returnTime.String)
		if err != nil {
			return RideRecord{}, fmt.Errorf("ride %s: %w", r.ID, err)
		}
		r.ReturnTime = &c
	}
	if code.Valid {
		v := code.String
		r.VerificationCode = &v
	}
	if eta.Valid {
		v := int(eta.Int64)
		r.EtaMinutes = &v
	}
	return RideRecord{Ride: r, Cancelled: cancelled}, nil
}

func coordFrom(lat, lon sql.NullFloat64) *geo.Coordinate {
	if !lat.Valid || !lon.Valid {
		return nil
	}
	return &geo.Coordinate{Lat: lat.Float64, Lon: lon.Float64}
}

func coordArgs(p models.Place) (any, any) {
	if p.Coordinate == nil {
		return nil, nil
	}
	return p.Coordinate.Lat, p.Coordinate.Lon
}
