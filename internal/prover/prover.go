// prover.go - Zero-knowledge proofs for executed transactions.
//
// A hash gated note is consumable by whoever knows the preimage of the digest stored in its
// inputs. The local prover turns the secret each gated note was consumed with into a Groth16
// proof over SecretCircuit, so the secret never has to leave the client. The proofs travel with
// the transaction together with the commitment to the execution traces.

package prover

import (
	"bytes"
	"context"
	"path/filepath"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"notevm/internal/field"
	"notevm/internal/metrics"
	"notevm/internal/note"
	"notevm/internal/stdnotes"
	"notevm/internal/txexec"
)

const (
	provingKeyFile   = "secret.pk"
	verifyingKeyFile = "secret.vk"
)

var (
	// ErrInvalidProof is returned when a note proof does not verify.
	ErrInvalidProof = errors.New("invalid note proof")
	// ErrExpectedMismatch is returned when a proof is for another digest than its note holds.
	ErrExpectedMismatch = errors.New("proof digest does not match note inputs")
)

// NoteProof proves that a gated note was consumed with the preimage of Expected.
type NoteProof struct {
	NoteID   field.Word `json:"note_id"`
	Expected field.Word `json:"expected"`
	Proof    []byte     `json:"proof"`
}

// ProvenTransaction is an executed transaction with its note proofs.
type ProvenTransaction struct {
	Tx              *txexec.ExecutedTransaction `json:"transaction"`
	TraceCommitment field.Word                  `json:"trace_commitment"`
	Proofs          []NoteProof                 `json:"proofs,omitempty"`
}

// Prover proves executed transactions.
type Prover interface {
	Prove(ctx context.Context, tx *txexec.ExecutedTransaction) (*ProvenTransaction, error)
}

// Option configures a LocalProver.
type Option func(*LocalProver)

// WithLogger sets the prover logger. gnark's own compile and setup logs go to it too.
func WithLogger(log zerolog.Logger) Option {
	return func(p *LocalProver) { p.log = log }
}

// WithMetrics records compile and proving times.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *LocalProver) { p.metrics = m }
}

// WithKeyDir loads keys from a directory, generating and saving them on first use.
func WithKeyDir(dir string) Option {
	return func(p *LocalProver) { p.keyDir = dir }
}

// LocalProver proves in process.
type LocalProver struct {
	ccs     constraint.ConstraintSystem
	pk      groth16.ProvingKey
	vk      groth16.VerifyingKey
	keyDir  string
	log     zerolog.Logger
	metrics *metrics.Collector
}

// NewLocalProver compiles SecretCircuit and sets up or loads its keys.
func NewLocalProver(opts ...Option) (*LocalProver, error) {
	p := &LocalProver{log: zerolog.Nop()}
	for _, o := range opts {
		o(p)
	}
	gnarklogger.Set(p.log.Level(zerolog.WarnLevel))

	start := time.Now()
	var circuit SecretCircuit
	ccs, err := frontend.Compile(ecc.BLS12_377.ScalarField(), r1cs.NewBuilder, &circuit)
	if err != nil {
		return nil, errors.Wrap(err, "compiling secret circuit")
	}
	p.ccs = ccs

	var pkPath, vkPath string
	if p.keyDir != "" {
		pkPath = filepath.Join(p.keyDir, provingKeyFile)
		vkPath = filepath.Join(p.keyDir, verifyingKeyFile)
	}
	if p.pk, p.vk, err = SetupOrLoadKeys(ccs, pkPath, vkPath); err != nil {
		return nil, err
	}
	p.metrics.RecordCircuitCompile(time.Since(start))
	p.log.Info().
		Int("constraints", ccs.GetNbConstraints()).
		Dur("took", time.Since(start)).
		Msg("secret circuit ready")
	return p, nil
}

// Gated reports whether a note's script is a hash gate.
func Gated(n *note.Note) bool {
	root := n.Script().Root()
	return root == stdnotes.HashGateScript().Root() || root == stdnotes.NoTransferScript().Root()
}

// Prove proves every hash gated input note of the transaction. The context is checked before
// each proof.
func (p *LocalProver) Prove(ctx context.Context, tx *txexec.ExecutedTransaction) (*ProvenTransaction, error) {
	start := time.Now()
	proven := &ProvenTransaction{Tx: tx, TraceCommitment: tx.TraceCommitment()}
	for _, in := range tx.InputNotes {
		if !Gated(in.Note) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		proof, err := p.proveNote(in)
		if err != nil {
			return nil, errors.Wrapf(err, "proving note %s", in.Note.ID())
		}
		proven.Proofs = append(proven.Proofs, *proof)
	}
	p.metrics.RecordProofGeneration(time.Since(start))
	p.log.Debug().
		Str("tx", tx.ID.String()).
		Int("proofs", len(proven.Proofs)).
		Dur("took", time.Since(start)).
		Msg("transaction proven")
	return proven, nil
}

func (p *LocalProver) proveNote(in txexec.InputNote) (*NoteProof, error) {
	expected, err := gateDigest(in.Note)
	if err != nil {
		return nil, err
	}
	assignment := &SecretCircuit{
		Expected: assignWord(expected),
		Secret:   assignWord(in.Args),
	}
	w, err := frontend.NewWitness(assignment, ecc.BLS12_377.ScalarField())
	if err != nil {
		return nil, errors.Wrap(err, "witness creation failed")
	}
	proof, err := groth16.Prove(p.ccs, p.pk, w)
	if err != nil {
		return nil, errors.Wrap(err, "proof generation failed")
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "proof marshaling failed")
	}
	return &NoteProof{NoteID: in.Note.ID(), Expected: expected, Proof: buf.Bytes()}, nil
}

// Verify checks every note proof. When the transaction still carries its input notes, each
// gated note must have a proof for the digest in its inputs.
func (p *LocalProver) Verify(proven *ProvenTransaction) error {
	byNote := make(map[field.Word]NoteProof, len(proven.Proofs))
	for _, np := range proven.Proofs {
		if err := p.verifyNote(np); err != nil {
			return errors.Wrapf(err, "note %s", np.NoteID)
		}
		byNote[np.NoteID] = np
	}
	for _, in := range proven.Tx.InputNotes {
		if !Gated(in.Note) {
			continue
		}
		np, ok := byNote[in.Note.ID()]
		if !ok {
			return errors.Wrapf(ErrInvalidProof, "note %s has no proof", in.Note.ID())
		}
		expected, err := gateDigest(in.Note)
		if err != nil {
			return err
		}
		if expected != np.Expected {
			return errors.Wrapf(ErrExpectedMismatch, "note %s", in.Note.ID())
		}
	}
	if len(proven.Tx.Traces) > 0 && proven.Tx.TraceCommitment() != proven.TraceCommitment {
		return errors.New("trace commitment mismatch")
	}
	return nil
}

func (p *LocalProver) verifyNote(np NoteProof) error {
	w, err := frontend.NewWitness(&SecretCircuit{Expected: assignWord(np.Expected)},
		ecc.BLS12_377.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return errors.Wrap(err, "public witness creation failed")
	}
	proof := groth16.NewProof(ecc.BLS12_377)
	if _, err := proof.ReadFrom(bytes.NewReader(np.Proof)); err != nil {
		return errors.Wrap(ErrInvalidProof, err.Error())
	}
	if err := groth16.Verify(proof, p.vk, w); err != nil {
		return errors.Wrap(ErrInvalidProof, err.Error())
	}
	return nil
}

// gateDigest is the expected digest a gated note keeps in its inputs.
func gateDigest(n *note.Note) (field.Word, error) {
	words := n.Inputs().Values().ToWords()
	if len(words) != 1 {
		return field.Word{}, errors.Errorf("gated note %s has %d input words", n.ID(), len(words))
	}
	return words[0], nil
}
