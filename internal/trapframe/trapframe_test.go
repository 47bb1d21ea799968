package trapframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAddressSpace_ReadWriteRoundTrip(t *testing.T) {
	u := NewUserAddressSpace(16)
	require.NoError(t, u.TryWriteUser(4, 0x7a))
	b, err := u.TryReadUser(4)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7a), b)
}

func TestUserAddressSpace_OutOfBoundsReadFaults(t *testing.T) {
	u := NewUserAddressSpace(8)
	_, err := u.TryReadUser(8)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, uint64(8), fault.Addr)
}

func TestUserAddressSpace_OutOfBoundsWriteFaults(t *testing.T) {
	u := NewUserAddressSpace(8)
	err := u.TryWriteUser(100, 1)
	assert.Error(t, err)
}

func TestCopyInBytes_FailsAtomicallyOnPartialOverrun(t *testing.T) {
	u := NewUserAddressSpace(8)
	_, err := u.CopyInBytes(4, 8) // would read bytes [4,12), overruns len 8
	assert.Error(t, err)
}

func TestCopyInBytes_ExactFitSucceeds(t *testing.T) {
	u := NewUserAddressSpace(8)
	copy(u.Bytes, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	got, err := u.CopyInBytes(2, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 4, 5, 6}, got)
}

func TestCopyOutBytes_WritesIntoRange(t *testing.T) {
	u := NewUserAddressSpace(8)
	require.NoError(t, u.CopyOutBytes(2, []byte{9, 9}))
	assert.Equal(t, byte(9), u.Bytes[2])
	assert.Equal(t, byte(9), u.Bytes[3])
}

func TestCopyInCString_StopsAtNUL(t *testing.T) {
	u := NewUserAddressSpace(16)
	copy(u.Bytes, []byte("hi\x00garbage"))
	s, err := u.CopyInCString(0, 16)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
}

func TestCopyInCString_FailsIfTerminatorMissingWithinBounds(t *testing.T) {
	u := NewUserAddressSpace(4)
	copy(u.Bytes, []byte("abcd"))
	_, err := u.CopyInCString(0, 8) // walks past the 4-byte arena before hitting NUL
	assert.Error(t, err)
}

func TestHartContext_EnterAndReturnTrackScratch(t *testing.T) {
	h := NewHartContext(0)
	assert.Nil(t, h.Scratch())

	f := &TrapFrame{}
	h.EnterFromUser(f)
	assert.Same(t, f, h.Scratch())

	h.ReturnToUser(f, 0x1000, 0x2000, [12]uint64{}, 0x3000, 0x4000)
	assert.Equal(t, uint64(0x1000), f.KernelSP)
	assert.Equal(t, uint64(0x2000), f.KernelRA)
	assert.Same(t, f, h.Scratch())
}

func TestHartContext_KernelTrapRejectsMachineMode(t *testing.T) {
	h := NewHartContext(1)
	assert.NoError(t, h.KernelTrap(SupervisorMode))
	assert.Error(t, h.KernelTrap(MachineMode))
}
