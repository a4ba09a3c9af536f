package project

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// File is the on-disk project document.
type File struct {
	Name      string        `yaml:"name,omitempty"`
	Transport TransportFile `yaml:"transport"`
	Tracks    []TrackFile   `yaml:"tracks"`
}

type TransportFile struct {
	BPM           float64  `yaml:"bpm,omitempty"`
	Quantization  int      `yaml:"quantization,omitempty"`
	Swing         float64  `yaml:"swing,omitempty"`
	TimeSignature [2]int   `yaml:"timeSignature,flow,omitempty"`
	Metronome     bool     `yaml:"metronome,omitempty"`
	Loop          LoopFile `yaml:"loop,omitempty"`
}

type LoopFile struct {
	Enabled bool    `yaml:"enabled"`
	Start   float64 `yaml:"start"`
	End     float64 `yaml:"end"`
}

type TrackFile struct {
	ID         string     `yaml:"id,omitempty"`
	Name       string     `yaml:"name,omitempty"`
	Instrument string     `yaml:"instrument"`
	Volume     float64    `yaml:"volume,omitempty"`
	Muted      bool       `yaml:"muted,omitempty"`
	Clips      []ClipFile `yaml:"clips,omitempty"`
}

type ClipFile struct {
	ID     string     `yaml:"id,omitempty"`
	Name   string     `yaml:"name,omitempty"`
	Start  float64    `yaml:"start"`
	Length float64    `yaml:"length,omitempty"`
	Loop   *bool      `yaml:"loop,omitempty"`
	Muted  bool       `yaml:"muted,omitempty"`
	Active bool       `yaml:"active,omitempty"`
	Notes  []NoteFile `yaml:"notes,omitempty"`
}

type NoteFile struct {
	ID       string  `yaml:"id,omitempty"`
	Pitch    uint8   `yaml:"pitch"`
	Velocity uint8   `yaml:"velocity,omitempty"`
	Start    float64 `yaml:"start"`
	Duration float64 `yaml:"duration"`
}

// Project is a decoded project ready to load into a store.
type Project struct {
	Name      string
	Transport TransportFile
	Tracks    []Track
	Clips     []*Clip
	// Active lists the clips marked to start with the transport.
	Active []string
}

// Load reads a project file from path.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	p, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", path, err)
	}
	return p, nil
}

// Decode parses a YAML project. Tracks, clips and notes without an id get a
// random one; notes without a velocity play at 100.
func Decode(r io.Reader) (*Project, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	p := &Project{Name: f.Name, Transport: f.Transport}
	seen := make(map[string]bool)
	for ti, tf := range f.Tracks {
		if tf.Instrument == "" {
			return nil, fmt.Errorf("track %d: instrument is required", ti)
		}
		t := Track{
			ID:           idOr(tf.ID),
			Name:         tf.Name,
			InstrumentID: tf.Instrument,
			Muted:        tf.Muted,
			Volume:       tf.Volume,
		}
		if t.Name == "" {
			t.Name = t.ID
		}
		p.Tracks = append(p.Tracks, t)
		for _, cf := range tf.Clips {
			c := NewClip(idOr(cf.ID), t.ID, cf.Start, cf.Length)
			if seen[c.ID] {
				return nil, fmt.Errorf("clip %s: duplicate id", c.ID)
			}
			seen[c.ID] = true
			if cf.Name != "" {
				c.Name = cf.Name
			}
			if cf.Loop != nil {
				c.Loop = *cf.Loop
			}
			c.Muted = cf.Muted
			for _, nf := range cf.Notes {
				if nf.Pitch > 127 || nf.Velocity > 127 {
					return nil, fmt.Errorf("clip %s: note out of MIDI range", c.ID)
				}
				vel := nf.Velocity
				if vel == 0 {
					vel = 100
				}
				c.AddNote(MidiNote{
					ID:       idOr(nf.ID),
					Pitch:    nf.Pitch,
					Velocity: vel,
					Start:    nf.Start,
					Duration: nf.Duration,
				})
			}
			c.LoopEnd = c.Length()
			p.Clips = append(p.Clips, c)
			if cf.Active {
				p.Active = append(p.Active, c.ID)
			}
		}
	}
	return p, nil
}

// Populate writes every track and clip into s.
func (p *Project) Populate(s *MemStore) error {
	for _, t := range p.Tracks {
		s.PutTrack(t)
	}
	for _, c := range p.Clips {
		if err := s.PutClip(c); err != nil {
			return err
		}
	}
	return nil
}

// Encode writes p back out as YAML.
func (p *Project) Encode(w io.Writer) error {
	f := File{Name: p.Name, Transport: p.Transport}
	active := make(map[string]bool, len(p.Active))
	for _, id := range p.Active {
		active[id] = true
	}
	for _, t := range p.Tracks {
		tf := TrackFile{ID: t.ID, Name: t.Name, Instrument: t.InstrumentID, Volume: t.Volume, Muted: t.Muted}
		for _, c := range p.Clips {
			if c.TrackID != t.ID {
				continue
			}
			loop := c.Loop
			cf := ClipFile{ID: c.ID, Name: c.Name, Start: c.Start, Length: c.Length(), Loop: &loop, Muted: c.Muted, Active: active[c.ID]}
			for _, n := range c.Notes() {
				cf.Notes = append(cf.Notes, NoteFile{ID: n.ID, Pitch: n.Pitch, Velocity: n.Velocity, Start: n.Start, Duration: n.Duration})
			}
			tf.Clips = append(tf.Clips, cf)
		}
		f.Tracks = append(f.Tracks, tf)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&f); err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	return enc.Close()
}

func idOr(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
